// Copyright (c) 2025 BVK Chaitanya

package subcmds

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bvk/pancakebot/notify"
	"github.com/bvk/pancakebot/pancake"
	"github.com/joho/godotenv"
)

type Secrets struct {
	BSC *pancake.Credentials `json:"bsc"`

	Telegram *notify.Secrets `json:"telegram"`
}

func SecretsFromFile(fpath string) (*Secrets, error) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}
	s := new(Secrets)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (v *Secrets) Check() error {
	if v.BSC == nil {
		return fmt.Errorf("bsc credentials are required")
	}
	if err := v.BSC.Check(); err != nil {
		return err
	}
	if v.Telegram != nil {
		if err := v.Telegram.Check(); err != nil {
			return err
		}
	}
	return nil
}

// LoadSecrets reads the secrets file and fills any gaps from the process
// environment. An env file, when given, is loaded first so local setups can
// keep keys out of their shell history.
func LoadSecrets(secretsPath, envFile string) (*Secrets, error) {
	if len(envFile) != 0 {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("could not load env file %q: %w", envFile, err)
		}
	}

	s, err := SecretsFromFile(secretsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s = new(Secrets)
	}

	if s.BSC == nil {
		s.BSC = new(pancake.Credentials)
	}
	if len(s.BSC.RPCURL) == 0 {
		s.BSC.RPCURL = os.Getenv("PANCAKEBOT_RPC_URL")
	}
	if len(s.BSC.WalletKey) == 0 {
		s.BSC.WalletKey = os.Getenv("PANCAKEBOT_WALLET_KEY")
	}

	if s.Telegram == nil {
		if token := os.Getenv("TELEGRAM_BOT_TOKEN"); len(token) != 0 {
			s.Telegram = &notify.Secrets{
				BotToken: token,
				OwnerID:  os.Getenv("TELEGRAM_OWNER_ID"),
			}
		}
	}

	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}
