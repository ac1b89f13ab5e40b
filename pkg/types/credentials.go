package types

import "fmt"

// DefaultUsername is the account the PowerBox ships with for local API access.
const DefaultUsername = "installer"

// Credentials identify a single PowerBox on the local network.
type Credentials struct {
	Host      string `json:"host"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	VerifyTLS bool   `json:"verifyTLS"`
}

// BaseURL is the root of the device's v1.0 REST API.
func (c Credentials) BaseURL() string {
	return fmt.Sprintf("https://%s/v1.0", c.Host)
}

// Redacted returns a copy safe to log or expose in diagnostics.
func (c Credentials) Redacted() Credentials {
	if c.Username != "" {
		c.Username = Redacted
	}
	if c.Password != "" {
		c.Password = Redacted
	}
	return c
}

// Redacted replaces sensitive values in diagnostics output.
const Redacted = "**REDACTED**"
