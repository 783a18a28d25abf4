package utils

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

var httpClient = &http.Client{Timeout: 15 * time.Minute}

// PostJson posts body to url with a JSON content type. Responses with a
// status other than 200 are returned together with an error.
func PostJson(url string, body []byte) (*http.Response, error) {
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("server replied: %s", resp.Status)
	}
	return resp, nil
}
