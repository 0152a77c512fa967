package notify

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"
)

const defaultMailTimeout = 30 * time.Second

// MailNotifier sends plain-text mail through an SMTP relay.
type MailNotifier struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
	timeout  time.Duration
}

type MailConfig struct {
	Addr     string
	User     string
	Password string
	From     string
	To       []string
	// Timeout bounds one delivery including dial and greeting. Zero means 30s.
	Timeout time.Duration
}

func NewMailNotifier(cfg MailConfig) (*MailNotifier, error) {
	if cfg.Addr == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("mail notifier requires SMTP_ADDR, MAIL_FROM and MAIL_TO")
	}
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_ADDR %q: %w", cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_ADDR port %q: %w", portStr, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMailTimeout
	}
	return &MailNotifier{
		host:     host,
		port:     port,
		user:     cfg.User,
		password: cfg.Password,
		from:     cfg.From,
		to:       cfg.To,
		timeout:  timeout,
	}, nil
}

// Notify sends msg and returns once it is delivered, the relay fails, or
// ctx or the notifier timeout expires, whichever comes first.
func (n *MailNotifier) Notify(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	m, err := n.compose(msg)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(n.host, n.clientOptions()...)
	if err != nil {
		return fmt.Errorf("mail client: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- client.DialAndSendWithContext(ctx, m) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (n *MailNotifier) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(n.port),
		mail.WithTimeout(n.timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(dialWithDeadline),
	}
	if n.user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.user),
			mail.WithPassword(n.password),
		)
	}
	return opts
}

// dialWithDeadline carries the context deadline onto the connection so a
// relay that accepts but never greets cannot hold the read forever.
func dialWithDeadline(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (n *MailNotifier) compose(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(n.from); err != nil {
		return nil, fmt.Errorf("invalid MAIL_FROM %q: %w", n.from, err)
	}
	if err := m.To(n.to...); err != nil {
		return nil, fmt.Errorf("invalid MAIL_TO: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

var _ Notifier = (*MailNotifier)(nil)
