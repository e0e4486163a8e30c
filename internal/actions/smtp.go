package actions

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

const smtpDialTimeout = 30 * time.Second

// Mailer delivers a complete RFC 5322 message.
type Mailer interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPConnection describes one entry of smtp_connections.
type SMTPConnection struct {
	ID       string `yaml:"id"`
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"pass"`
	StartTLS bool   `yaml:"start_tls"`
	ForceSSL bool   `yaml:"force_ssl"`
	Key      string `yaml:"key"`
	Chain    string `yaml:"chain"`
}

// SMTPMailer sends mail over one SMTP connection descriptor. A new session
// is opened per message.
type SMTPMailer struct {
	conn SMTPConnection
	tls  *tls.Config
}

// NewSMTPMailer validates c and loads its client certificate, if any.
func NewSMTPMailer(c SMTPConnection) (*SMTPMailer, error) {
	if c.Server == "" {
		return nil, invalid("smtp connection %q requires a server", c.ID)
	}
	if c.Port == 0 {
		c.Port = 25
		if c.ForceSSL {
			c.Port = 465
		}
	}
	cfg := &tls.Config{ServerName: c.Server, MinVersion: tls.VersionTLS12}
	if c.Key != "" || c.Chain != "" {
		if c.Key == "" || c.Chain == "" {
			return nil, invalid("smtp connection %q requires both key and chain", c.ID)
		}
		cert, err := tls.LoadX509KeyPair(c.Chain, c.Key)
		if err != nil {
			return nil, invalid("smtp connection %q: load certificate: %v", c.ID, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return &SMTPMailer{conn: c, tls: cfg}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(m.conn.Server, strconv.Itoa(m.conn.Port))

	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if m.conn.ForceSSL {
		tlsConn := tls.Client(conn, m.tls)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return err
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, m.conn.Server)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if m.conn.StartTLS && !m.conn.ForceSSL {
		if err := client.StartTLS(m.tls); err != nil {
			return err
		}
	}
	if m.conn.User != "" {
		if err := client.Auth(smtp.PlainAuth("", m.conn.User, m.conn.Pass, m.conn.Server)); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
