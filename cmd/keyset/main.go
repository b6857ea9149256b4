// This command creates the keyset used to encrypt stored tokens. The output
// is a cleartext Tink keyset: protect it like any other secret and point
// TOKEN_ENCRYPTION_KEYSET_FILE at it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/apptemplate/clientkit/internal/encryption"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Output string `env:"KEYSET_OUTPUT, default=.development/keys/token-keyset.json"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	if err := encryption.WriteKeysetFile(cfg.Output); err != nil {
		fmt.Fprintf(os.Stderr, "error writing keyset: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(cfg.Output)
}
