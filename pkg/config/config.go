package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load 读取 config/{service}.yaml 并反序列化到 out
// 业务配置启动后不可变，热更新只走 WatchLogLevel
func Load(service string, out interface{}) (*viper.Viper, error) {
	// .env 可选，不存在不报错
	if err := godotenv.Load(); err == nil {
		log.Printf("[%s] .env loaded", service)
	}

	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 环境变量覆盖，例如：
	//   DEPOSIT_SERVICE_HTTP_ADDR 覆盖 http.addr
	//   DEPOSIT_SERVICE_CHAIN_RPC_URL 覆盖 chain.rpc_url
	v.SetEnvPrefix(envPrefix(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())
	return v, nil
}

// WatchLogLevel 监听配置文件变更，只把 key 对应的日志级别推给 apply
func WatchLogLevel(v *viper.Viper, key string, apply func(level string)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		lvl := v.GetString(key)
		if lvl == "" {
			return
		}
		log.Printf("config file changed: %s, log level -> %s", e.Name, lvl)
		apply(lvl)
	})
	v.WatchConfig()
}

func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
