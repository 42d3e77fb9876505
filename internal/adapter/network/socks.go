package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// socksDialer dials through a SOCKS4/5 proxy. Every failure attributable to
// the proxy is returned as *ProxyError; local DNS failures for the target
// are returned as they are.
type socksDialer struct {
	proxyURL  *url.URL
	version   int  // 4 or 5
	remoteDNS bool // proxy resolves target hostnames (socks5h)
	forward   *net.Dialer
	resolver  *net.Resolver
	socks5    proxy.ContextDialer
}

// newSOCKSDialer builds a dialer for a socks4://, socks5:// or socks5h://
// URL. socks5h is socks5 with hostname resolution left to the proxy.
func newSOCKSDialer(proxyURL *url.URL, forward *net.Dialer) (*socksDialer, error) {
	d := &socksDialer{
		proxyURL: proxyURL,
		forward:  forward,
		resolver: net.DefaultResolver,
	}
	switch proxyURL.Scheme {
	case "socks4":
		d.version = 4
		return d, nil
	case "socks5":
		d.version = 5
	case "socks5h":
		d.version = 5
		d.remoteDNS = true
	default:
		return nil, fmt.Errorf("unsupported socks scheme %q", proxyURL.Scheme)
	}

	var auth *proxy.Auth
	if u := proxyURL.User; u != nil {
		pass, _ := u.Password()
		auth = &proxy.Auth{User: u.Username(), Password: pass}
	}
	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support contexts")
	}
	d.socks5 = cd
	return d, nil
}

// DialContext connects to addr through the proxy.
func (d *socksDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	target := addr
	if !d.remoteDNS {
		resolved, err := d.resolve(ctx, addr)
		if err != nil {
			return nil, err
		}
		target = resolved
	}

	var (
		conn net.Conn
		err  error
	)
	if d.version == 4 {
		conn, err = d.dialSOCKS4(ctx, target)
	} else {
		conn, err = d.socks5.DialContext(ctx, network, target)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProxyError{Proxy: d.proxyURL.Redacted(), Err: err}
	}
	return conn, nil
}

// resolve replaces the host of addr with one of its addresses, IPv4 first.
// SOCKS4 carries neither hostnames nor IPv6.
func (d *socksDialer) resolve(ctx context.Context, addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	if ip := net.ParseIP(host); ip != nil {
		return addr, nil
	}
	ips, err := d.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	for _, ip := range ips {
		if ip.IP.To4() != nil {
			return net.JoinHostPort(ip.IP.String(), port), nil
		}
	}
	if d.version == 5 && len(ips) > 0 {
		return net.JoinHostPort(ips[0].IP.String(), port), nil
	}
	return "", &net.DNSError{Err: "no IPv4 address", Name: host, IsNotFound: true}
}

const (
	socks4Version        = 0x04
	socks4CmdConnect     = 0x01
	socks4Granted        = 0x5a
	socks4HandshakeLimit = 30 * time.Second
)

func (d *socksDialer) dialSOCKS4(ctx context.Context, target string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil, fmt.Errorf("socks4 needs an IPv4 target, got %q", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("socks4 port %q: %w", portStr, err)
	}

	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(socks4HandshakeLimit)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if err := socks4Handshake(conn, ip, uint16(port), d.proxyURL.User.Username()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

// socks4Handshake sends a CONNECT request and checks the reply.
func socks4Handshake(rw io.ReadWriter, ip net.IP, port uint16, userID string) error {
	req := make([]byte, 0, 9+len(userID))
	req = append(req, socks4Version, socks4CmdConnect)
	req = binary.BigEndian.AppendUint16(req, port)
	req = append(req, ip...)
	req = append(req, userID...)
	req = append(req, 0)
	if _, err := rw.Write(req); err != nil {
		return fmt.Errorf("socks4 write: %w", err)
	}

	var reply [8]byte
	if _, err := io.ReadFull(rw, reply[:]); err != nil {
		return fmt.Errorf("socks4 read: %w", err)
	}
	if reply[1] != socks4Granted {
		return fmt.Errorf("socks4 request rejected (code 0x%02x)", reply[1])
	}
	return nil
}
