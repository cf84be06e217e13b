package cache

import (
	"fmt"
	"net/url"
	"strings"
)

// slack:token:{workspace}
func CredentialKey(workspace string) string {
	ws := url.PathEscape(strings.TrimSpace(workspace))
	return fmt.Sprintf("slack:token:%s", ws)
}
