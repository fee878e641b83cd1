package smtp

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"github.com/emersion/go-msgauth/dkim"
	gomail "github.com/wneessen/go-mail"
	"os"
	"strings"
)

const dkimHeader = "DKIM-Signature"

// DKIM signs outgoing messages for one domain and selector.
type DKIM struct {
	domain   string
	selector string
	key      crypto.Signer
}

type DKIMConfiguration struct {
	KeyFile  string
	Selector string
	Domain   string
}

func LoadDKIM(cfg DKIMConfiguration) (*DKIM, error) {
	key, err := LoadDKIMPrivateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	selector := cfg.Selector
	if selector == "" {
		selector = "mail"
	}

	return NewDKIM(cfg.Domain, selector, key), nil
}

func NewDKIM(domain, selector string, key crypto.Signer) *DKIM {
	return &DKIM{
		domain:   domain,
		selector: selector,
		key:      key,
	}
}

// LoadDKIMPrivateKey reads a PEM encoded PKCS#1 RSA or PKCS#8 key.
func LoadDKIMPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM data in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse DKIM key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("DKIM key of type %T cannot sign", key)
	}
	return signer, nil
}

// Sign adds a DKIM-Signature header to m. All signed headers must be set
// before calling Sign.
func (d *DKIM) Sign(m *gomail.Msg) error {
	var raw bytes.Buffer
	if _, err := m.WriteTo(&raw); err != nil {
		return fmt.Errorf("could not render message: %w", err)
	}

	signer, err := dkim.NewSigner(&dkim.SignOptions{
		Domain:   d.domain,
		Selector: d.selector,
		Signer:   d.key,

		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		HeaderKeys: []string{
			"from",
			"to",
			"subject",
			"date",
			"message-id",
			"in-reply-to",
		},
	})
	if err != nil {
		return fmt.Errorf("could not create DKIM signer: %w", err)
	}
	if _, err := signer.Write(raw.Bytes()); err != nil {
		_ = signer.Close()
		return fmt.Errorf("could not sign message: %w", err)
	}
	if err := signer.Close(); err != nil {
		return fmt.Errorf("could not sign message: %w", err)
	}

	sig := strings.TrimPrefix(signer.Signature(), dkimHeader+":")
	sig = strings.TrimSpace(sig)
	m.SetGenHeaderPreformatted(gomail.Header(dkimHeader), sig)
	return nil
}
