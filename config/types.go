package config

// Ledger captures economic knobs applied to every account allocation.
type Ledger struct {
	RentPerByte uint64 `toml:"RentPerByte"`
}

// Faucet controls the development airdrop endpoint. Amounts are decimal
// strings in whole units.
type Faucet struct {
	Enabled             bool   `toml:"Enabled"`
	Amount              string `toml:"Amount"`
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch"`
	MaxAmountPerEpoch   string `toml:"MaxAmountPerEpoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds"`
}

// RateLimit bounds API requests per client IP.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures logging and OpenTelemetry export.
type Telemetry struct {
	Environment  string `toml:"Environment"`
	LogLevel     string `toml:"LogLevel"`
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	Insecure     bool   `toml:"Insecure"`
	// OTLPHeaders is a "k=v,k2=v2" list sent with every export.
	OTLPHeaders string  `toml:"OTLPHeaders"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio"`
	// LogFile, when set, receives a rotated copy of stdout logs.
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`
}

// Admin guards the operator endpoints. The HMAC secret is never stored in
// the file; it is read from the environment variable named by SecretEnv.
type Admin struct {
	SecretEnv string `toml:"SecretEnv"`
	Issuer    string `toml:"Issuer"`
	Audience  string `toml:"Audience"`
	// ClockSkew is a Go duration string such as "90s".
	ClockSkew string `toml:"ClockSkew"`
}
