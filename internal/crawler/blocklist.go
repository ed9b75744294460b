package crawler

import "strings"

// hostBlocklist holds the sites never crawled as roots: aggregators, social networks and
// manufacturer portals. "*.x.com" and ".x.com" block x.com with every subdomain; a bare
// "x.com" blocks that host alone, with or without "www.".
type hostBlocklist map[string]bool

func newHostBlocklist(patterns []string) hostBlocklist {
	b := make(hostBlocklist)
	for _, raw := range patterns {
		value := strings.ToLower(strings.TrimSpace(raw))
		withSubdomains := strings.HasPrefix(value, "*.") || strings.HasPrefix(value, ".")
		value = strings.TrimPrefix(strings.TrimPrefix(value, "*"), ".")
		if !withSubdomains {
			value = strings.TrimPrefix(value, "www.")
		}
		if value == "" {
			continue
		}
		b[value] = b[value] || withSubdomains
	}
	if len(b) == 0 {
		return nil
	}
	return b
}

// Blocked walks host from the full name up through its parent domains.
func (b hostBlocklist) Blocked(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
	if len(b) == 0 || host == "" {
		return false
	}
	for name := host; ; {
		if subdomains, ok := b[name]; ok && (subdomains || name == host) {
			return true
		}
		dot := strings.IndexByte(name, '.')
		if dot < 0 {
			return false
		}
		name = name[dot+1:]
	}
}
