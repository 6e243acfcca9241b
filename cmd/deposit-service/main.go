package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"depositgate.com/internal/deposit/app"
)

func main() {
	// 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New("deposit-service")
	if err != nil {
		log.Fatalf("init deposit-service error: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("deposit-service exit: %v", err)
	}
	log.Println("deposit-service exit")
}
