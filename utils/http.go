package utils

import (
	"net/http"
	"time"
)

var HTTPClient = &http.Client{
	Timeout: 300 * time.Second, // evaluation payloads carry megabytes of audio
}
