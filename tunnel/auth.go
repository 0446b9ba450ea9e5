package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod builds the one ssh.AuthMethod described by a.
func AuthMethod(ctx context.Context, a Auth) (ssh.AuthMethod, error) {
	switch a.Kind {
	case AuthPassword:
		return ssh.Password(a.Password), nil
	case AuthKey:
		signer, err := loadSigner(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", a.KeyPath, err)
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("unknown auth kind %d", a.Kind)
	}
}

// loadSigner parses the private key, decrypting it with the configured
// passphrase or, failing that, one supplied by PassphraseFunc.
func loadSigner(ctx context.Context, a Auth) (ssh.Signer, error) {
	data, err := os.ReadFile(a.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("parsing key: %w", err)
	}

	pass := a.Passphrase
	if pass == "" && a.PassphraseFunc != nil {
		if pass, err = a.PassphraseFunc(ctx); err != nil {
			return nil, err
		}
	}
	if pass == "" {
		return nil, fmt.Errorf("key is encrypted and no passphrase is available")
	}

	signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(pass))
	if err != nil {
		return nil, fmt.Errorf("decrypting key: %w", err)
	}
	return signer, nil
}

// ── host-key verification ────────────────────────────────────────────

// HostKeyCallback verifies server keys against knownHostsPath (default
// ~/.ssh/known_hosts) when strict is set and accepts any key otherwise.
func HostKeyCallback(strict bool, knownHostsPath string) (ssh.HostKeyCallback, error) {
	if !strict {
		//nolint:gosec // user opted out of host key checking
		return ssh.InsecureIgnoreHostKey(), nil
	}

	khFile := knownHostsPath
	if khFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		khFile = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(khFile)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", khFile, err)
	}
	return cb, nil
}
