package identity

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
)

func TestValidHostname(t *testing.T) {
	valid := []string{"example.com", "mail.example.com", "a-b.example.co", "xn--bcher-kva.example", "x.io"}
	for _, name := range valid {
		assert.True(t, validHostname(name), name)
	}
	invalid := []string{
		"", "localhost", "example.c", "-bad.example.com", "bad-.example.com",
		"double..dot.com", ".leading.com", "under_score.com", "example.123",
		strings.Repeat("a", 64) + ".com",
		strings.Repeat("abcdefghi.", 26) + "com",
	}
	for _, name := range invalid {
		assert.False(t, validHostname(name), name)
	}
}

func TestGenerateDKIM(t *testing.T) {
	now := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	pair, err := generateDKIM(now)
	require.NoError(t, err)

	assert.Regexp(t, `^s202603[0-9a-f]{6}$`, pair.Selector)
	assert.NotContains(t, pair.PublicKey, "\n")
	assert.NotContains(t, pair.PublicKey, "BEGIN")

	der, err := base64.StdEncoding.DecodeString(pair.PublicKey)
	require.NoError(t, err)
	_, err = x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)

	block, _ := pem.Decode(pair.PrivateKeyPEM)
	require.NotNil(t, block)
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, dkimKeyBits, key.N.BitLen())

	other, err := generateDKIM(now)
	require.NoError(t, err)
	assert.NotEqual(t, pair.Selector, other.Selector)
}

func TestKeyCipherRoundTrip(t *testing.T) {
	c, err := NewKeyCipher(strings.Repeat("ab", 32))
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("private key"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "private key")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "private key", string(plain))

	other, err := NewKeyCipher(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.Error(t, err)

	_, err = NewKeyCipher("short")
	assert.Error(t, err)
}

func TestNormalizePublicKey(t *testing.T) {
	pemKey := "-----BEGIN PUBLIC KEY-----\nMIIB\nIjAN\n-----END PUBLIC KEY-----\n"
	assert.Equal(t, "MIIBIjAN", normalizePublicKey(pemKey))
	assert.Equal(t, "MIIBIjAN", normalizePublicKey(" MIIB IjAN "))
}

type stubResolver struct {
	txt   map[string][]string
	cname map[string]string
	mx    map[string]int
	err   map[string]error
}

func (r stubResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if err := r.err[name]; err != nil {
		return nil, err
	}
	return r.txt[name], nil
}

func (r stubResolver) LookupCNAME(_ context.Context, host string) (string, error) {
	if err := r.err[host]; err != nil {
		return "", err
	}
	if c, ok := r.cname[host]; ok {
		return c, nil
	}
	return host + ".", nil
}

func (r stubResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	if err := r.err["mx:"+name]; err != nil {
		return nil, err
	}
	out := make([]*net.MX, r.mx[name])
	for i := range out {
		out[i] = &net.MX{Host: "mx.example.net.", Pref: 10}
	}
	return out, nil
}

func TestRunChecksIndependent(t *testing.T) {
	r := stubResolver{
		txt: map[string][]string{
			"sel._domainkey.example.com": {"v=DKIM1; k=rsa; p=KEY"},
		},
		cname: map[string]string{"track.example.com": "track.mailpipe.io."},
		err: map[string]error{
			"example.com": errors.New("i/o timeout"),
		},
	}
	rep := runChecks(context.Background(), r, "example.com", "sel", "KEY", "_spf.mailpipe.io", "track.mailpipe.io")

	assert.True(t, rep.dkim.ok)
	assert.False(t, rep.spf.ok)
	assert.Contains(t, rep.spf.err, "i/o timeout")
	assert.True(t, rep.tracking.ok)
	assert.False(t, rep.mx.ok)
	assert.Equal(t, "no MX records", rep.mx.err)
}

func TestCheckDKIMMismatch(t *testing.T) {
	r := stubResolver{txt: map[string][]string{"s._domainkey.d.com": {"v=DKIM1; p=OTHER"}}}
	res := checkDKIM(context.Background(), r, "s._domainkey.d.com", "KEY")
	assert.False(t, res.ok)
	assert.Contains(t, res.err, "does not match")

	res = checkDKIM(context.Background(), r, "x._domainkey.d.com", "KEY")
	assert.Contains(t, res.err, "no DKIM public key")
}

func TestCheckSPF(t *testing.T) {
	r := stubResolver{txt: map[string][]string{
		"ok.com":      {"google-site-verification=abc", "v=spf1 include:_spf.google.com +include:_spf.mailpipe.io ~all"},
		"missing.com": {"v=spf1 include:_spf.google.com -all"},
	}}
	assert.True(t, checkSPF(context.Background(), r, "ok.com", "_spf.mailpipe.io").ok)

	res := checkSPF(context.Background(), r, "missing.com", "_spf.mailpipe.io")
	assert.False(t, res.ok)
	assert.Contains(t, res.err, "does not include")

	res = checkSPF(context.Background(), r, "none.com", "_spf.mailpipe.io")
	assert.Contains(t, res.err, "no SPF record")
}

func TestCheckTrackingWrongTarget(t *testing.T) {
	r := stubResolver{cname: map[string]string{"track.d.com": "elsewhere.net."}}
	res := checkTracking(context.Background(), r, "track.d.com", "track.mailpipe.io")
	assert.False(t, res.ok)
	assert.Contains(t, res.err, "elsewhere.net")
}

type fakeRoute53 struct {
	in *route53.ChangeResourceRecordSetsInput
}

func (f *fakeRoute53) ChangeResourceRecordSets(_ context.Context, in *route53.ChangeResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	f.in = in
	return &route53.ChangeResourceRecordSetsOutput{}, nil
}

func TestRoute53PublisherUpserts(t *testing.T) {
	fake := &fakeRoute53{}
	p := newRoute53Publisher(fake, config.Route53Config{HostedZoneID: "Z123"})

	longKey := strings.Repeat("A", 400)
	err := p.Publish(context.Background(), []domain.DNSRecord{
		{Name: "s._domainkey.d.com", Type: "TXT", Value: "v=DKIM1; k=rsa; p=" + longKey},
		{Name: "track.d.com", Type: "CNAME", Value: "track.mailpipe.io"},
	})
	require.NoError(t, err)
	require.NotNil(t, fake.in)
	assert.Equal(t, "Z123", aws.ToString(fake.in.HostedZoneId))
	require.Len(t, fake.in.ChangeBatch.Changes, 2)

	txt := aws.ToString(fake.in.ChangeBatch.Changes[0].ResourceRecordSet.ResourceRecords[0].Value)
	assert.True(t, strings.HasPrefix(txt, `"v=DKIM1`))
	assert.Equal(t, 2, strings.Count(txt, `" "`)+1, "value split into two strings")
	assert.Equal(t, int64(300), aws.ToInt64(fake.in.ChangeBatch.Changes[1].ResourceRecordSet.TTL))
}
