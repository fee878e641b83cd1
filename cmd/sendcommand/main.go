package main

import (
	"bufio"
	"fmt"
	"github.com/OliverSchlueter/mailcmd/internal/mail"
	"github.com/OliverSchlueter/mailcmd/internal/smtp"
	"github.com/spf13/pflag"
	gomail "github.com/wneessen/go-mail"
	"log"
	"os"
	"strings"
)

// sendcommand mails a command request to an agent. Commands are taken from
// the arguments, one per argument, or from stdin.
func main() {
	fs := pflag.NewFlagSet("sendcommand", pflag.ExitOnError)
	username := fs.StringP("username", "u", "", "Sending account")
	password := fs.StringP("password", "p", "", "Password of the sending account")
	to := fs.String("to", "", "Mailbox watched by the agent")
	tag := fs.StringP("string", "s", "", "Command tag of the agent")
	host := fs.String("smtp-host", smtp.DefaultHost, "SMTP submission host")
	port := fs.Int("smtp-port", smtp.DefaultPort, "SMTP submission port")
	tlsName := fs.String("smtp-tls", "mandatory", "STARTTLS policy: mandatory, opportunistic or none")
	_ = fs.Parse(os.Args[1:])

	if *username == "" || *to == "" || *tag == "" {
		log.Fatalf("--username, --to and --string are required")
	}

	tlsPolicy, err := smtp.ParseTLSPolicy(*tlsName)
	if err != nil {
		log.Fatalf("invalid --smtp-tls: %s", err)
	}

	body, err := commands(fs.Args())
	if err != nil {
		log.Fatalf("failed to read commands: %s", err)
	}

	// First we create a mail message
	m := gomail.NewMsg()
	if err := m.From(*username); err != nil {
		log.Fatalf("failed to set From address: %s", err)
	}
	if err := m.To(*to); err != nil {
		log.Fatalf("failed to set To address: %s", err)
	}
	m.Subject(mail.RequestSubject(*tag))
	m.SetBodyString(gomail.TypeTextPlain, body)

	// Secondly the mail client
	c, err := gomail.NewClient(
		*host,
		gomail.WithPort(*port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(*username),
		gomail.WithPassword(*password),
		gomail.WithTLSPolicy(tlsPolicy),
	)
	if err != nil {
		log.Fatalf("failed to create mail client: %s", err)
	}

	// Finally let's send out the mail
	if err := c.DialAndSend(m); err != nil {
		log.Fatalf("failed to send mail: %s", err)
	}
	fmt.Printf("Sent %q to %s\n", mail.RequestSubject(*tag), *to)
}

func commands(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, "\n") + "\n", nil
	}

	var b strings.Builder
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		b.WriteString(sc.Text() + "\n")
	}
	return b.String(), sc.Err()
}
