package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
)

// KeycloakConfig はkeycloak-connect形式のIdP設定ファイルを表す。
type KeycloakConfig struct {
	Realm            string `json:"realm"`
	AuthServerURL    string `json:"auth-server-url"`
	Resource         string `json:"resource"`
	SSLRequired      string `json:"ssl-required"`
	ConfidentialPort int    `json:"confidential-port"`
	BearerOnly       bool   `json:"bearer-only"`
	PublicClient     bool   `json:"public-client"`
	Credentials      struct {
		Secret string `json:"secret"`
	} `json:"credentials"`
}

// LoadKeycloakConfig はIdP設定ファイルを読み込み、検証する。
func LoadKeycloakConfig(path string) (*KeycloakConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keycloak config %s: %w", path, err)
	}

	var kc KeycloakConfig
	if err := json.Unmarshal(data, &kc); err != nil {
		return nil, fmt.Errorf("failed to parse keycloak config %s: %w", path, err)
	}

	if err := kc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid keycloak config %s: %w", path, err)
	}
	return &kc, nil
}

// Validate は必須項目を検証する。
// confidential clientの場合はcredentials.secretも必須とする。
func (k *KeycloakConfig) Validate() error {
	var missing []string
	if k.Realm == "" {
		missing = append(missing, "realm")
	}
	if k.AuthServerURL == "" {
		missing = append(missing, "auth-server-url")
	}
	if k.Resource == "" {
		missing = append(missing, "resource")
	}
	if !k.PublicClient && !k.BearerOnly && k.Credentials.Secret == "" {
		missing = append(missing, "credentials.secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %v", missing)
	}
	return nil
}

// RequiresTLS はssl-requiredに従い、baseURLで公開するときにTLSが必要かを返す。
// externalはループバックとプライベートアドレス以外のホストでTLSを要求する。
func (k *KeycloakConfig) RequiresTLS(baseURL string) bool {
	switch k.SSLRequired {
	case "all":
		return true
	case "external":
		u, err := url.Parse(baseURL)
		if err != nil {
			return true
		}
		host := u.Hostname()
		if host == "localhost" {
			return false
		}
		ip := net.ParseIP(host)
		return ip == nil || !(ip.IsLoopback() || ip.IsPrivate())
	default:
		return false
	}
}

// ConfidentialURL はbaseURLをhttpsとconfidential-portで書き換えたURLを返す。
// confidential-portが0または443の場合はポートを省略する。
func (k *KeycloakConfig) ConfidentialURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	u.Scheme = "https"
	u.Host = u.Hostname()
	if k.ConfidentialPort != 0 && k.ConfidentialPort != 443 {
		u.Host = net.JoinHostPort(u.Host, strconv.Itoa(k.ConfidentialPort))
	}
	return u.String()
}
