package deposit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCfg() *Cfg {
	c := &Cfg{
		Chain:   Chain{RPCURL: "http://127.0.0.1:8545"},
		Db:      DBConfig{SourceName: "file::memory:"},
		Deposit: Deposit{Address: "0x5FbDB2315678afecb367f032d93F642f64180aa3", MinimumDeposit: "1"},
	}
	c.ApplyDefaults()
	return c
}

func TestToWei(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1", "1000000000000000000", false},
		{"0.5", "500000000000000000", false},
		{"0.000000000000000001", "1", false},
		{"0.0000000000000000001", "", true},
		{"0", "", true},
		{"-1", "", true},
		{"abc", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ToWei(tc.in, 18)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestFromWei(t *testing.T) {
	w, _ := new(big.Int).SetString("2500000000000000000", 10)
	assert.Equal(t, "2.5", FromWei(w, 18).String())
	assert.True(t, FromWei(nil, 18).IsZero())
}

func TestApplyDefaults(t *testing.T) {
	c := validCfg()
	assert.Equal(t, ServiceName, c.Name)
	assert.Equal(t, uint64(5), c.Chain.Confirmations())
	assert.Equal(t, int32(18), c.Deposit.Decimals)
	assert.Equal(t, "lock:deposit-service:repoller", c.Repoller.LockKey)
	assert.Equal(t, 3*c.Repoller.Interval, c.Repoller.LockTTL)
	assert.Equal(t, "lock:deposit-service:scanner", c.Scanner.LockKey)
	assert.Equal(t, uint64(20), c.Scanner.BatchBlocks)
}

func TestApplyDefaults_ZeroConfirmationsKept(t *testing.T) {
	zero := uint64(0)
	c := &Cfg{Chain: Chain{RequiredConfirmations: &zero}}
	c.ApplyDefaults()
	assert.Equal(t, uint64(0), c.Chain.Confirmations())

	assert.Equal(t, uint64(5), Chain{}.Confirmations())
}

func TestValidate(t *testing.T) {
	require.NoError(t, validCfg().Validate())

	c := validCfg()
	c.Deposit.Address = "not-an-address"
	c.Deposit.MinimumDeposit = "0"
	c.Chain.RPCURL = ""
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deposit.address")
	assert.Contains(t, err.Error(), "minimum_deposit")
	assert.Contains(t, err.Error(), "rpc_url")
}
