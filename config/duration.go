package config

import "time"

// Duration wraps time.Duration so it can be decoded from TOML strings like
// "60s" or "15m" via go-toml/v2's TextUnmarshaler support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
