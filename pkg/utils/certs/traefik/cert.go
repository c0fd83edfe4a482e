// Package traefik reads certificates from the acme storage file of a traefik proxy.
package traefik

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

var ErrDomainNotFound = errors.New("domain not found")

type acmeEntry struct {
	Certificate string `json:"certificate"`
	Key         string `json:"key"`
}

// FromFile loads the key pair of domain from an acme.json file
func FromFile(file, domain string) (tls.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return tls.Certificate{}, err
	}
	return FromJSON(string(data), domain)
}

// FromJSON extracts the base64 encoded key pair of domain.
// The resolver name is not relevant, all resolvers are searched.
func FromJSON(jsonData, domain string) (tls.Certificate, error) {
	entry, err := lookup(jsonData, domain)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM, err := base64.StdEncoding.DecodeString(entry.Certificate)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode certificate: %w", err)
	}
	keyPEM, err := base64.StdEncoding.DecodeString(entry.Key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode key: %w", err)
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

func lookup(jsonData, domain string) (acmeEntry, error) {
	obj, err := oj.ParseString(jsonData)
	if err != nil {
		return acmeEntry{}, err
	}
	path, err := jp.ParseString(fmt.Sprintf(`$..Certificates[?(@.domain.main == %q)]`, domain))
	if err != nil {
		return acmeEntry{}, err
	}
	res := path.Get(obj)
	if len(res) == 0 {
		return acmeEntry{}, fmt.Errorf("%w: %s", ErrDomainNotFound, domain)
	}
	ret := acmeEntry{}
	if err := oj.Unmarshal([]byte(oj.JSON(res[0])), &ret); err != nil {
		return acmeEntry{}, err
	}
	return ret, nil
}
