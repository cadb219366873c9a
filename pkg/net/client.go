// Package net downloads dataset files over HTTP.
package net

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/pkg/errors"
)

const (
	maxIdleConns     = 10
	timeoutInSeconds = 60

	// Some dataset hosts refuse requests without a browser agent.
	clientAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.88 Safari/537.36"
)

var ErrorURLNotFound = errors.New("URL not found")

var reqTransport = &http.Transport{
	MaxIdleConns:          maxIdleConns,
	IdleConnTimeout:       timeoutInSeconds * time.Second,
	DisableCompression:    true,
	ResponseHeaderTimeout: timeoutInSeconds * time.Second,
}

// GetHTTPClient returns a client with a cookie jar and the shared
// transport.
func GetHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "error creating cookie jar")
	}
	return &http.Client{
		Transport: reqTransport,
		Jar:       jar,
	}, nil
}

func getResp(ctx context.Context, url string) (*http.Response, error) {
	c, err := GetHTTPClient()
	if err != nil {
		return nil, errors.Wrap(err, "error creating HTTP client")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error creating HTTP Get request")
	}
	req.Header.Set("User-Agent", clientAgent)

	return c.Do(req)
}

// Download fetches url into filepath.
func Download(ctx context.Context, url, filepath string) (retErr error) {
	out, err := os.Create(filepath)
	if err != nil {
		return errors.Wrapf(err, "error creating file: %s", filepath)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && retErr == nil {
			retErr = errors.Wrap(cerr, "closing file")
		}
	}()

	slog.Debug("downloading", "url", url, "to", filepath)

	resp, err := getResp(ctx, url)
	if err != nil {
		return errors.Wrapf(err, "error downloading: %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrorURLNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("error downloading file (status: %d - %s): %s", resp.StatusCode, resp.Status, url)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return errors.Wrap(err, "error saving downloaded content to file")
	}
	return nil
}
