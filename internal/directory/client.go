// Package directory is the only component that mutates the directory
// service. Everything else observes it through Exists.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"adconverge/internal/fixture"
)

// Client is the capability surface the checker and orchestrator see.
// Create and Delete always address the primary node; Exists targets any
// replica. A clean "not found" is (false, nil); transport and auth failures
// come back as a non-nil error so callers can tell the two apart.
type Client interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, f fixture.Fixture) error
	Exists(ctx context.Context, f fixture.Fixture, node string) (bool, error)
	Delete(ctx context.Context, f fixture.Fixture) error
}

type ldapClient struct {
	primary  string
	bindUser string
	bindPass string
	timeout  time.Duration
}

func New(primary, bindUser, bindPass string, timeout time.Duration) Client {
	return &ldapClient{
		primary:  primary,
		bindUser: bindUser,
		bindPass: bindPass,
		timeout:  timeout,
	}
}

func (c *ldapClient) connect(node string) (*ldap.Conn, error) {
	d := &net.Dialer{Timeout: c.timeout}
	conn, err := ldap.DialURL(ldapURL(node), ldap.DialWithDialer(d))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", node, err)
	}
	conn.SetTimeout(c.timeout)

	if c.bindPass == "" {
		err = conn.UnauthenticatedBind(c.bindUser)
	} else {
		err = conn.Bind(c.bindUser, c.bindPass)
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bind %s: %w", node, err)
	}
	return conn, nil
}

// Ping is the mandatory-capability probe run once at INIT: bind to the
// primary and read the RootDSE.
func (c *ldapClient) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := c.connect(c.primary)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 0, false,
		"(objectClass=*)",
		[]string{"defaultNamingContext"},
		nil,
	)
	if _, err := conn.Search(req); err != nil {
		return fmt.Errorf("rootdse on %s: %w", c.primary, err)
	}
	return nil
}

func (c *ldapClient) Create(ctx context.Context, f fixture.Fixture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := c.connect(c.primary)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := ldap.NewAddRequest(f.Identity, nil)
	switch f.Kind {
	case fixture.KindOU:
		req.Attribute("objectClass", []string{"top", "organizationalUnit"})
		req.Attribute("ou", []string{f.Name})
	case fixture.KindGroup:
		req.Attribute("objectClass", []string{"top", "group"})
		req.Attribute("cn", []string{f.Name})
		req.Attribute("sAMAccountName", []string{f.Name})
		// Global security group.
		req.Attribute("groupType", []string{"-2147483646"})
	case fixture.KindComputer:
		req.Attribute("objectClass", []string{"top", "person", "organizationalPerson", "user", "computer"})
		req.Attribute("cn", []string{f.Name})
		req.Attribute("sAMAccountName", []string{f.Name + "$"})
		// WORKSTATION_TRUST_ACCOUNT.
		req.Attribute("userAccountControl", []string{"4096"})
	case fixture.KindPolicy:
		req.Attribute("objectClass", []string{"top", "container", "groupPolicyContainer"})
		req.Attribute("cn", []string{f.Name})
		req.Attribute("displayName", []string{f.Name})
		req.Attribute("gPCFunctionalityVersion", []string{"2"})
		req.Attribute("flags", []string{"0"})
	default:
		return fmt.Errorf("create: kind %s is not a directory object", f.Kind)
	}

	slog.Info("Creating directory object", "kind", f.Kind, "dn", f.Identity)
	if err := conn.Add(req); err != nil {
		return fmt.Errorf("add %s: %w", f.Identity, err)
	}
	return nil
}

func (c *ldapClient) Exists(ctx context.Context, f fixture.Fixture, node string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	conn, err := c.connect(node)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		f.Identity,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 0, false,
		"(objectClass=*)",
		[]string{"1.1"},
		nil,
	)

	res, err := conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return false, nil
		}
		return false, fmt.Errorf("search %s on %s: %w", f.Identity, node, err)
	}
	return len(res.Entries) > 0, nil
}

func (c *ldapClient) Delete(ctx context.Context, f fixture.Fixture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := c.connect(c.primary)
	if err != nil {
		return err
	}
	defer conn.Close()

	slog.Info("Deleting directory object", "kind", f.Kind, "dn", f.Identity)
	if err := conn.Del(ldap.NewDelRequest(f.Identity, nil)); err != nil {
		// Already gone counts as cleaned up.
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", f.Identity, err)
	}
	return nil
}

func ldapURL(node string) string {
	if strings.Contains(node, "://") {
		return node
	}
	return "ldap://" + node
}
