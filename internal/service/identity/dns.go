package identity

import (
	"context"
	"fmt"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Resolver is the DNS surface verification needs. *net.Resolver satisfies it.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// checkResult is the outcome of one record check. err is a human readable
// diagnosis, empty on success.
type checkResult struct {
	ok  bool
	err string
}

type dnsReport struct {
	dkim, spf, tracking, mx checkResult
}

// runChecks resolves all four records concurrently. A failure in one check
// never cancels the others.
func runChecks(ctx context.Context, r Resolver, name, selector, publicKey, spfInclude, trackingHost string) dnsReport {
	var (
		rep dnsReport
		g   errgroup.Group
	)
	g.Go(func() error {
		rep.dkim = checkDKIM(ctx, r, selector+"._domainkey."+name, publicKey)
		return nil
	})
	g.Go(func() error {
		rep.spf = checkSPF(ctx, r, name, spfInclude)
		return nil
	})
	g.Go(func() error {
		rep.tracking = checkTracking(ctx, r, "track."+name, trackingHost)
		return nil
	})
	g.Go(func() error {
		rep.mx = checkMX(ctx, r, name)
		return nil
	})
	_ = g.Wait()
	return rep
}

func checkDKIM(ctx context.Context, r Resolver, record, publicKey string) checkResult {
	txts, err := r.LookupTXT(ctx, record)
	if err != nil {
		return checkResult{err: fmt.Sprintf("dkim lookup %s: %v", record, err)}
	}
	want := normalizePublicKey(publicKey)
	found := false
	for _, txt := range txts {
		for _, tag := range strings.Split(txt, ";") {
			tag = strings.TrimSpace(tag)
			if !strings.HasPrefix(tag, "p=") {
				continue
			}
			found = true
			if normalizePublicKey(strings.TrimPrefix(tag, "p=")) == want {
				return checkResult{ok: true}
			}
		}
	}
	if !found {
		return checkResult{err: fmt.Sprintf("no DKIM public key published at %s", record)}
	}
	return checkResult{err: fmt.Sprintf("DKIM public key at %s does not match", record)}
}

func checkSPF(ctx context.Context, r Resolver, name, include string) checkResult {
	txts, err := r.LookupTXT(ctx, name)
	if err != nil {
		return checkResult{err: fmt.Sprintf("spf lookup %s: %v", name, err)}
	}
	want := "include:" + strings.ToLower(include)
	found := false
	for _, txt := range txts {
		fields := strings.Fields(strings.ToLower(txt))
		if len(fields) == 0 || fields[0] != "v=spf1" {
			continue
		}
		found = true
		for _, f := range fields[1:] {
			if strings.TrimLeft(f, "+") == want {
				return checkResult{ok: true}
			}
		}
	}
	if !found {
		return checkResult{err: fmt.Sprintf("no SPF record at %s", name)}
	}
	return checkResult{err: fmt.Sprintf("SPF record at %s does not include %s", name, include)}
}

func checkTracking(ctx context.Context, r Resolver, host, target string) checkResult {
	cname, err := r.LookupCNAME(ctx, host)
	if err != nil {
		return checkResult{err: fmt.Sprintf("tracking lookup %s: %v", host, err)}
	}
	got := strings.TrimSuffix(strings.ToLower(cname), ".")
	if got == strings.TrimSuffix(strings.ToLower(target), ".") {
		return checkResult{ok: true}
	}
	return checkResult{err: fmt.Sprintf("%s points to %q, expected %q", host, got, target)}
}

func checkMX(ctx context.Context, r Resolver, name string) checkResult {
	mx, err := r.LookupMX(ctx, name)
	if err != nil {
		return checkResult{err: fmt.Sprintf("mx lookup %s: %v", name, err)}
	}
	if len(mx) == 0 {
		return checkResult{err: "no MX records"}
	}
	return checkResult{ok: true}
}
