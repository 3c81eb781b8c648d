package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/devolutions/jetify/util"
	"github.com/masterzen/winrm"
	"github.com/masterzen/winrm/soap"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	host     string
	port     int
	https    bool
	insecure bool
	user     string
	password string
	command  string
	timeout  time.Duration
}

func newProbeCmd(env util.Env) *cobra.Command {
	var opts probeOptions
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run a command over WinRM through the proxy the library would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.port == 0 {
				opts.port = 5985
				if opts.https {
					opts.port = 5986
				}
			}
			return runProbe(cmd.Context(), cmd.OutOrStdout(), env, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", "", "WinRM server")
	flags.IntVar(&opts.port, "port", 0, "WinRM port (default 5985, or 5986 with --https)")
	flags.BoolVar(&opts.https, "https", false, "use HTTPS")
	flags.BoolVar(&opts.insecure, "insecure", false, "skip certificate verification")
	flags.StringVar(&opts.user, "user", "", "user name")
	flags.StringVar(&opts.password, "password", "", "password")
	flags.StringVar(&opts.command, "command", "hostname", "command to run")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "operation timeout")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runProbe(ctx context.Context, out io.Writer, env util.Env, opts probeOptions) error {
	proxy, err := proxyURL(env, opts.host)
	if err != nil {
		return err
	}
	if proxy != nil {
		fmt.Fprintf(out, "proxy: %s\n", proxy)
	} else {
		fmt.Fprintln(out, "proxy: none")
	}

	endpoint := winrm.NewEndpoint(opts.host, opts.port, opts.https, opts.insecure, nil, nil, nil, opts.timeout)
	params := winrm.NewParameters("PT60S", "en-US", 153600)
	params.TransportDecorator = func() winrm.Transporter {
		return &proxyTransport{
			user:     opts.user,
			password: opts.password,
			proxy:    proxy,
			insecure: opts.insecure,
			timeout:  opts.timeout,
		}
	}
	client, err := winrm.NewClientWithParameters(endpoint, opts.user, opts.password, params)
	if err != nil {
		return errors.Wrap(err, "creating WinRM client")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	stdout, stderr, code, err := client.RunWithContextWithString(ctx, opts.command, "")
	if err != nil {
		return errors.Wrapf(err, "running %q on %s", opts.command, opts.host)
	}
	fmt.Fprintf(out, "exit code: %d\n", code)
	io.WriteString(out, stdout)
	if stderr != "" {
		fmt.Fprintf(out, "stderr:\n%s", stderr)
	}
	return nil
}

// proxyURL returns the proxy that WinHttpOpen would be given for host, or
// nil for a direct connection. The proxy uses the WinHTTP "host:port" form;
// the bypass list holds ';' or space separated names, "*" wildcards and
// <local> for names without a dot.
func proxyURL(env util.Env, host string) (*url.URL, error) {
	proxy := strings.TrimSpace(util.GetEnv(env, util.EnvProxy, ""))
	if proxy == "" {
		return nil, nil
	}
	if bypassed(util.GetEnv(env, util.EnvProxyBypass, ""), host) {
		return nil, nil
	}
	if i := strings.Index(proxy, "="); i >= 0 && !strings.Contains(proxy, "://") {
		// scheme-specific list, "http=proxy:8080;https=proxy:8443"
		proxy = strings.SplitN(proxy[i+1:], ";", 2)[0]
	}
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", util.EnvProxy)
	}
	return u, nil
}

func bypassed(list, host string) bool {
	host = strings.ToLower(host)
	for _, entry := range strings.FieldsFunc(list, func(r rune) bool { return r == ';' || r == ' ' || r == ',' }) {
		entry = strings.ToLower(entry)
		switch {
		case entry == "<local>":
			if !strings.Contains(host, ".") {
				return true
			}
		case entry == "*":
			return true
		case strings.HasPrefix(entry, "*"):
			if strings.HasSuffix(host, entry[1:]) {
				return true
			}
		case strings.HasSuffix(entry, "*"):
			if strings.HasPrefix(host, entry[:len(entry)-1]) {
				return true
			}
		case entry == host:
			return true
		}
	}
	return false
}

// proxyTransport posts WinRM messages with NTLM authentication, through an
// explicit proxy when one is set.
type proxyTransport struct {
	user     string
	password string
	proxy    *url.URL
	insecure bool
	timeout  time.Duration

	url       string
	transport http.RoundTripper
}

func (t *proxyTransport) Transport(endpoint *winrm.Endpoint) error {
	scheme := "http"
	if endpoint.HTTPS {
		scheme = "https"
	}
	t.url = fmt.Sprintf("%s://%s/wsman", scheme, net.JoinHostPort(endpoint.Host, fmt.Sprint(endpoint.Port)))
	t.transport = &http.Transport{
		Proxy: func(*http.Request) (*url.URL, error) {
			return t.proxy, nil
		},
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: t.insecure,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: t.timeout,
	}
	return nil
}

func (t *proxyTransport) Post(_ *winrm.Client, request *soap.SoapMessage) (string, error) {
	req, err := http.NewRequest("POST", t.url, strings.NewReader(request.String()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/soap+xml;charset=UTF-8")
	req.SetBasicAuth(t.user, t.password)

	client := &http.Client{Transport: ntlmssp.Negotiator{RoundTripper: t.transport}}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("http error %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}
