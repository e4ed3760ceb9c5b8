package midtrans

import (
	"crypto/sha512"
	"encoding/hex"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
)

type Config struct {
	ServerKey   string
	ClientKey   string
	Environment string // "sandbox" or "production"
}

type MidtransClient struct {
	CoreAPI   coreapi.Client
	ServerKey string
	ClientKey string
	Env       midtrans.EnvironmentType
}

func Setup(cfg *Config) *MidtransClient {
	env := midtrans.Sandbox
	if cfg.Environment == "production" {
		env = midtrans.Production
	}

	var coreAPIClient coreapi.Client
	coreAPIClient.New(cfg.ServerKey, env)

	return &MidtransClient{
		CoreAPI:   coreAPIClient,
		ServerKey: cfg.ServerKey,
		ClientKey: cfg.ClientKey,
		Env:       env,
	}
}

// VerifySignature checks the signature_key of an HTTP notification:
// sha512(order_id + status_code + gross_amount + server_key).
func (m *MidtransClient) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	hash := sha512.Sum512([]byte(orderID + statusCode + grossAmount + m.ServerKey))
	return hex.EncodeToString(hash[:]) == signatureKey
}
