package mailer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/miekg/dns"
)

var ErrNoMX = errors.New("domain has no MX records")

// LookupMX queries server for the MX records of domain and returns the
// exchanges ordered by preference.
func LookupMX(ctx context.Context, domain, server string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	msg.RecursionDesired = true

	c := new(dns.Client)
	in, _, err := c.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("mx lookup %s: %w", domain, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("mx lookup %s: %s", domain, dns.RcodeToString[in.Rcode])
	}

	var records []*dns.MX
	for _, answer := range in.Answer {
		if mx, ok := answer.(*dns.MX); ok {
			records = append(records, mx)
		}
	}
	if len(records) == 0 {
		return nil, ErrNoMX
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Preference < records[j].Preference })
	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		hosts = append(hosts, mx.Mx)
	}
	return hosts, nil
}
