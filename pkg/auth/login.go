package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

var openURL = openBrowser

type callbackResult struct {
	code string
	err  error
}

// LoginBrowser runs the authorization code flow from the command line. It
// serves the redirect URI's path on its host:port, prints the consent URL,
// and also accepts the final redirect URL (or bare code) pasted on in for
// hosts where the browser cannot reach the listener.
func LoginBrowser(ctx context.Context, cfg OAuthProviderConfig, in io.Reader, out io.Writer) (*AuthCredential, error) {
	redirect, err := url.Parse(cfg.RedirectURI)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("invalid redirect URI %q", cfg.RedirectURI)
	}
	path := redirect.Path
	if path == "" {
		path = "/"
	}

	state := NewState()
	authURL := BuildAuthorizeURL(cfg, state)
	resultCh := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		res := parseCallback(r.URL.Query(), state)
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprint(w, "✅ Spotify connected! You can close this window.")
		}
		select {
		case resultCh <- res:
		default:
		}
	})

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("starting callback server on %s: %w", redirect.Host, err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go server.Serve(listener)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(out, "Open this URL to authorize the bot's Spotify account:\n\n%s\n\n", authURL)
	if err := openURL(authURL); err != nil {
		fmt.Fprintln(out, "Could not open a browser automatically.")
	}
	fmt.Fprintf(out, "If this machine cannot receive the redirect on %s, paste the final redirect URL (or just the code) here.\n", redirect.Host)
	fmt.Fprintln(out, "Waiting for authorization...")

	manualCh := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(in).ReadString('\n')
		manualCh <- strings.TrimSpace(line)
	}()

	var code string
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		code = res.code
	case manual := <-manualCh:
		if manual == "" {
			return nil, fmt.Errorf("manual input cancelled")
		}
		code = manual
		if u, err := url.Parse(manual); err == nil && u.Query().Get("code") != "" {
			res := parseCallback(u.Query(), state)
			if res.err != nil {
				return nil, res.err
			}
			code = res.code
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return ExchangeCode(ctx, cfg, code)
}

func parseCallback(q url.Values, state string) callbackResult {
	if q.Get("state") != state {
		return callbackResult{err: fmt.Errorf("state mismatch")}
	}
	code := q.Get("code")
	if code == "" {
		return callbackResult{err: fmt.Errorf("no code received: %s", q.Get("error"))}
	}
	return callbackResult{code: code}
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "windows":
		return exec.Command("cmd", "/c", "start", url).Start()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}
