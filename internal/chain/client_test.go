package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type ethService struct {
	lastBlock string
}

func (s *ethService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(10))
}

func (s *ethService) Call(args map[string]interface{}, block string) (hexutil.Bytes, error) {
	s.lastBlock = block
	if args["to"] == nil {
		return nil, errors.New("missing to")
	}
	return hexutil.Bytes{0x01, 0x02}, nil
}

func newTestClient(t *testing.T) (*Client, *ethService) {
	t.Helper()
	svc := &ethService{}
	server := rpc.NewServer()
	if err := server.RegisterName("eth", svc); err != nil {
		t.Fatalf("register service: %v", err)
	}
	t.Cleanup(server.Stop)

	c, err := newClient(context.Background(), rpc.DialInProc(server))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)
	return c, svc
}

func TestNewClientResolvesChainID(t *testing.T) {
	c, _ := newTestClient(t)
	if got := c.ChainID().Int64(); got != 10 {
		t.Fatalf("expected chain id 10, got %d", got)
	}
}

func TestCallContractPinsBlock(t *testing.T) {
	c, svc := newTestClient(t)
	to := common.HexToAddress("0x00000000000000000000000000000000000000f1")

	out, err := c.CallContract(context.Background(), ethereum.CallMsg{To: &to, Data: []byte{0xaa}}, big.NewInt(255))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(out) != 2 || out[0] != 0x01 {
		t.Fatalf("unexpected output %x", out)
	}
	if svc.lastBlock != "0xff" {
		t.Fatalf("expected call at block 0xff, got %q", svc.lastBlock)
	}
}

func TestCallContractRequiresTarget(t *testing.T) {
	c, _ := newTestClient(t)
	if _, err := c.CallContract(context.Background(), ethereum.CallMsg{}, nil); err == nil {
		t.Fatalf("expected error without target")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty rpc url")
	}
}
