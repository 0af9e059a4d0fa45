package instance

import "os"

// GetID identifies this process in logs and cron lock ownership.
// TOPUP_INSTANCE_ID wins, then the hostname.
func GetID() string {
	if id := os.Getenv("TOPUP_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "topup-0"
}
