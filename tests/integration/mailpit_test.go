//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// mailpitMailbox reads messages captured by the Mailpit container.
type mailpitMailbox struct {
	api  string
	http *http.Client
}

func newMailbox(host string, port int) *mailpitMailbox {
	return &mailpitMailbox{
		api:  fmt.Sprintf("http://%s:%d/api/v1", host, port),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type mailMessage struct {
	ID      string `json:"ID"`
	Subject string `json:"Subject"`
	Snippet string `json:"Snippet"`
	To      []struct {
		Address string `json:"Address"`
	} `json:"To"`
}

// to lists messages addressed to the recipient.
func (m *mailpitMailbox) to(recipient string) ([]mailMessage, error) {
	resp, err := m.http.Get(m.api + "/search?query=" + url.QueryEscape("to:"+recipient))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailpit search returned %d", resp.StatusCode)
	}

	var page struct {
		Messages []mailMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// waitFor polls until at least n messages reach the recipient.
func (m *mailpitMailbox) waitFor(recipient string, n int, timeout time.Duration) ([]mailMessage, error) {
	var (
		msgs []mailMessage
		err  error
	)
	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); time.Sleep(100 * time.Millisecond) {
		msgs, err = m.to(recipient)
		if err == nil && len(msgs) >= n {
			return msgs, nil
		}
	}
	if err != nil {
		return msgs, fmt.Errorf("waiting for mail to %s: %w", recipient, err)
	}
	return msgs, fmt.Errorf("waiting for mail to %s: got %d of %d", recipient, len(msgs), n)
}
