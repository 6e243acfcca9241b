package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depositgate.com/internal/deposit/chain/eth"
	"depositgate.com/internal/deposit/repo"
	"depositgate.com/pkg/orm"
)

const testYAML = `
name: deposit-service-test
log_level: debug
db:
  type: sqlite
  source_name: ":memory:"
  max_open_conns: 1
chain:
  rpc_url: http://127.0.0.1:8545
  required_confirmations: 3
deposit:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  minimum_deposit: "0.25"
repoller:
  interval: 30s
`

func writeConfig(t *testing.T, name, body string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", name+".yaml"), []byte(body), 0o644))
	t.Chdir(dir)
}

func TestNew_LoadsAndDefaults(t *testing.T) {
	writeConfig(t, "deposit-service-test", testYAML)

	a, err := New("deposit-service-test")
	require.NoError(t, err)
	assert.Equal(t, "deposit-service-test", a.cfg.Name)
	assert.Equal(t, uint64(3), a.cfg.Chain.Confirmations())
	assert.Equal(t, ":8080", a.cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, a.cfg.Repoller.Interval)
	assert.Equal(t, 90*time.Second, a.cfg.Repoller.LockTTL)
	assert.Equal(t, "lock:deposit-service-test:repoller", a.cfg.Repoller.LockKey)
	assert.Equal(t, "lock:deposit-service-test:scanner", a.cfg.Scanner.LockKey)
	assert.False(t, a.cfg.Scanner.Enabled)
}

func TestNew_ZeroConfirmationsFromYAML(t *testing.T) {
	writeConfig(t, "deposit-service-zero", `
chain:
  rpc_url: http://127.0.0.1:8545
  required_confirmations: 0
db:
  source_name: ":memory:"
deposit:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  minimum_deposit: ".5"
`)
	a, err := New("deposit-service-zero")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.cfg.Chain.Confirmations())
}

func TestNew_RejectsBadConfig(t *testing.T) {
	writeConfig(t, "deposit-service-bad", `
deposit:
  address: "not-an-address"
  minimum_deposit: "abc"
`)
	_, err := New("deposit-service-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deposit.address")
	assert.Contains(t, err.Error(), "chain.rpc_url")
}

func TestNew_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := New("deposit-service-none")
	assert.Error(t, err)
}

func TestStartHttp_ServesDepositInfo(t *testing.T) {
	gin.SetMode(gin.TestMode)
	writeConfig(t, "deposit-service-test", testYAML)
	a, err := New("deposit-service-test")
	require.NoError(t, err)

	db, err := orm.Open(a.cfg.Db.ORM())
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db))
	a.db = db

	sim := simulated.NewBackend(types.GenesisAlloc{})
	t.Cleanup(func() { _ = sim.Close() })
	a.chain, err = eth.New(context.Background(), sim.Client(), eth.Options{CallTimeout: time.Second})
	require.NoError(t, err)

	svc, err := a.buildService()
	require.NoError(t, err)
	a.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := a.StartHttp(ctx)
	assert.Equal(t, ":8080", srv.Addr)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deposit", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"minimum_deposit":0.25`)
	assert.Contains(t, w.Body.String(), `"required_confirmations":3`)
	assert.Contains(t, w.Body.String(), `"current_balance":0`)

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
