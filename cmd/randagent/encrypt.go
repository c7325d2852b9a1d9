package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"rand-agent/internal/infra/config"
)

func runEncrypt(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	return encryptSecret(os.Stdout, opts.Text, os.Getenv(config.PassphraseEnv))
}

// encryptSecret prints value encrypted with passphrase, ready to paste into
// config.yaml as an api_key.
func encryptSecret(w io.Writer, value, passphrase string) error {
	if value == "" {
		return errors.New("no value given")
	}
	if passphrase == "" {
		return fmt.Errorf("%s is not set", config.PassphraseEnv)
	}
	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, enc)
	return nil
}
