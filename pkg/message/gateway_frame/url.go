package gatewayframe

import (
	"fmt"
	"net/url"
)

const (
	GatewayVersion = 10
	DefaultURL     = "wss://gateway.discord.gg/"
)

// BuildURL appends the version, encoding and optional compression query to base,
// replacing any that were already present.
func BuildURL(base string, compress bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing gateway url %q: %w", base, err)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	q := u.Query()
	q.Set("v", fmt.Sprint(GatewayVersion))
	q.Set("encoding", "json")
	if compress {
		q.Set("compress", "zlib-stream")
	} else {
		q.Del("compress")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
