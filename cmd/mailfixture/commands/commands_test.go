package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/busybox42/mailfixture/internal/config"
	"github.com/busybox42/mailfixture/internal/fixture"
	"github.com/busybox42/mailfixture/internal/inspect"
	"github.com/busybox42/mailfixture/internal/logging"
	"github.com/busybox42/mailfixture/internal/mailhog"
	"github.com/busybox42/mailfixture/internal/message"
	"github.com/busybox42/mailfixture/internal/watch"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestEnv isolates a test from any configuration on the machine and
// returns the path of an empty configuration file
func setupTestEnv(t *testing.T) string {
	t.Helper()

	color.NoColor = true
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{config.EnvSMTPAddr, config.EnvAPIURL, config.EnvTestTo, config.EnvLogLevel} {
		t.Setenv(key, "")
	}

	path := filepath.Join(t.TempDir(), "mailfixture.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"warn\"\n"), 0644))
	return path
}

// resetFlags clears flag values left over from a previous Execute
func resetFlags() {
	configPath, logLevel, logFormat, apiURL, samplesDir = "", "", "", "", ""
	statusJSON = false
	sendOpts = sendOptions{}
	samplesSendOpts = samplesSendOptions{}
	serveOpts = serveOptions{}
	latestOpts = latestOptions{}
	inspectOpts = inspectOptions{}
	watchOpts = watchOptions{}
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return stdout.String(), err
}

// startCapture runs serve on ephemeral ports and returns the SMTP address
// and the API base URL
func startCapture(t *testing.T) (string, string) {
	t.Helper()

	c := config.DefaultConfig()
	c.Capture.SMTPListen = "127.0.0.1:0"
	c.Capture.HTTPListen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	type addrs struct{ smtp, http string }
	ready := make(chan addrs, 1)
	done := make(chan error, 1)

	go func() {
		done <- serveCapture(ctx, c, new(bytes.Buffer), logging.Discard(), func(smtpAddr, httpAddr string) {
			ready <- addrs{smtpAddr, httpAddr}
		})
	}()

	var bound addrs
	select {
	case bound = <-ready:
	case err := <-done:
		t.Fatalf("capture server failed to start: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("capture server did not start")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("capture server did not stop")
		}
	})

	return bound.smtp, "http://" + bound.http
}

func refusedAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

func TestRootCommand(t *testing.T) {
	setupTestEnv(t)

	out, err := executeCommand(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "sends a fixed HTML test email")
	for _, name := range []string{"send", "serve", "status", "latest", "inspect", "samples", "watch", "config", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestVersionCommand(t *testing.T) {
	setupTestEnv(t)

	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mailfixture dev (commit: unknown, built: unknown)\n", out)
}

func TestSendCapturesFixture(t *testing.T) {
	path := setupTestEnv(t)
	smtpAddr, apiBase := startCapture(t)

	out, err := executeCommand(t, "--config", path, "send", "--addr", smtpAddr)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"✅ Test email sent successfully!",
		"📧 From: test@example.com",
		"📧 To: test@local.test",
		"📧 Subject: Test HTML Email for Accessibility Scanner",
		"🔗 Check MailHog UI: http://localhost:8025",
		"",
	}, "\n"), out)

	client, err := mailhog.NewClient(mailhog.Config{URL: apiBase}, logging.Discard())
	require.NoError(t, err)

	msg, err := client.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test HTML Email for Accessibility Scanner", msg.Subject())
	assert.Equal(t, "test@example.com", msg.From.Address())
	assert.True(t, mailhog.IsAddressedTo(msg, "test@local.test"))

	html := mailhog.HTMLBody(msg)
	assert.Contains(t, html, "Welcome to Our Newsletter")
	assert.Contains(t, html, "<form>")

	t.Run("Status", func(t *testing.T) {
		out, err := executeCommand(t, "--config", path, "--api-url", apiBase, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "✅ MailHog is reachable at "+apiBase)
		assert.Contains(t, out, "📬 Messages: 1")
		assert.Contains(t, out, "Test HTML Email for Accessibility Scanner")
	})

	t.Run("Status JSON", func(t *testing.T) {
		out, err := executeCommand(t, "--config", path, "--api-url", apiBase, "status", "--json")
		require.NoError(t, err)

		var status mailhog.Status
		require.NoError(t, json.Unmarshal([]byte(out), &status))
		assert.Equal(t, 1, status.MessageCount)
		require.NotNil(t, status.Latest)
		assert.Equal(t, msg.ID, status.Latest.ID)
	})

	t.Run("Latest", func(t *testing.T) {
		out, err := executeCommand(t, "--config", path, "--api-url", apiBase, "latest")
		require.NoError(t, err)
		assert.Equal(t, html, out)

		out, err = executeCommand(t, "--config", path, "--api-url", apiBase, "latest", "--id", msg.ID, "--raw")
		require.NoError(t, err)
		assert.Contains(t, out, "Subject: Test HTML Email for Accessibility Scanner")
	})

	t.Run("Inspect latest", func(t *testing.T) {
		out, err := executeCommand(t, "--config", path, "--api-url", apiBase, "inspect", "--latest", "--json")
		require.NoError(t, err)

		var census inspect.Census
		require.NoError(t, json.Unmarshal([]byte(out), &census))
		assert.Equal(t, 2, census.OuterH1)
		assert.Equal(t, 1, census.Forms)
	})

	t.Run("Independent messages", func(t *testing.T) {
		_, err := executeCommand(t, "--config", path, "send", "--addr", smtpAddr)
		require.NoError(t, err)

		page, err := client.Messages(context.Background(), 0, 10)
		require.NoError(t, err)
		require.Equal(t, 2, page.Total)
		assert.NotEqual(t, page.Items[0].ID, page.Items[1].ID)
	})
}

func TestSendConnectionRefused(t *testing.T) {
	path := setupTestEnv(t)
	addr := refusedAddr(t)

	out, err := executeCommand(t, "--config", path, "send", "--addr", addr)
	require.NoError(t, err, "send failures keep a success exit status")

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "❌ Error sending email: "), lines[0])
	assert.Contains(t, lines[0], "failed to connect to "+addr)

	t.Run("Strict", func(t *testing.T) {
		_, err := executeCommand(t, "--config", path, "send", "--addr", addr, "--strict")
		require.Error(t, err)

		var exit *exitError
		require.True(t, errors.As(err, &exit))
		assert.Equal(t, 1, exit.code)
	})
}

func TestSendRejectsHeaderInjection(t *testing.T) {
	path := setupTestEnv(t)
	smtpAddr, apiBase := startCapture(t)

	out, err := executeCommand(t, "--config", path, "send", "--addr", smtpAddr,
		"--subject", "Hello\r\nBcc: victim@example.net")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "❌ Error sending email: "), lines[0])
	assert.Contains(t, lines[0], "Subject: "+message.ErrInvalidHeader.Error())

	client, err := mailhog.NewClient(mailhog.Config{URL: apiBase}, logging.Discard())
	require.NoError(t, err)
	_, err = client.Latest(context.Background())
	assert.ErrorIs(t, err, mailhog.ErrNoMessages, "nothing should reach the server")
}

func TestSendEnvironmentOverride(t *testing.T) {
	path := setupTestEnv(t)
	smtpAddr, apiBase := startCapture(t)
	t.Setenv(config.EnvSMTPAddr, smtpAddr)
	t.Setenv(config.EnvTestTo, "qa@local.test")

	out, err := executeCommand(t, "--config", path, "send", "--subject", "Override")
	require.NoError(t, err)
	assert.Contains(t, out, "📧 To: qa@local.test")
	assert.Contains(t, out, "📧 Subject: Override")

	client, err := mailhog.NewClient(mailhog.Config{URL: apiBase}, logging.Discard())
	require.NoError(t, err)
	msg, err := client.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, mailhog.IsAddressedTo(msg, "qa@local.test"))
}

func TestSendInvalidTLSMode(t *testing.T) {
	path := setupTestEnv(t)

	_, err := executeCommand(t, "--config", path, "send", "--tls", "always")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid TLS mode")
}

func TestInspectCommand(t *testing.T) {
	path := setupTestEnv(t)

	t.Run("Fixture", func(t *testing.T) {
		out, err := executeCommand(t, "--config", path, "inspect")
		require.NoError(t, err)
		assert.Contains(t, out, "Outer-level h1:")
		assert.Contains(t, out, "Issues (5):")
		assert.Contains(t, out, "skipped heading level h1 -> h4")
	})

	t.Run("Fixture JSON", func(t *testing.T) {
		out, err := executeCommand(t, "--config", path, "inspect", "--json")
		require.NoError(t, err)

		var census inspect.Census
		require.NoError(t, json.Unmarshal([]byte(out), &census))
		assert.Equal(t, 2, census.Headings["h1"])
		assert.Equal(t, 1, census.Images)
		assert.Equal(t, 2, census.Inputs)
		assert.Equal(t, 1, census.FormButtons)
		assert.Equal(t, 2, census.Anchors)
		assert.Equal(t, 2, census.StandaloneButtons)
	})

	t.Run("File", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "page.html")
		require.NoError(t, os.WriteFile(file, []byte(`<html><body><h1>Hi</h1><img src="a.png" alt="A"></body></html>`), 0644))

		out, err := executeCommand(t, "--config", path, "inspect", file)
		require.NoError(t, err)
		assert.Contains(t, out, "No issues found")
	})

	t.Run("Stdin", func(t *testing.T) {
		rootCmd.SetIn(strings.NewReader("<p><a href=\"#\">click here</a></p>"))
		t.Cleanup(func() { rootCmd.SetIn(nil) })

		out, err := executeCommand(t, "--config", path, "inspect", "-")
		require.NoError(t, err)
		assert.Contains(t, out, "Issues (1):")
	})

	t.Run("Empty file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "empty.html")
		require.NoError(t, os.WriteFile(file, []byte("  \n"), 0644))

		_, err := executeCommand(t, "--config", path, "inspect", file)
		assert.ErrorIs(t, err, fixture.ErrEmptyHTML)
	})

	t.Run("Latest with file", func(t *testing.T) {
		_, err := executeCommand(t, "--config", path, "inspect", "--latest", "page.html")
		assert.Error(t, err)
	})
}

func TestSamplesCommands(t *testing.T) {
	path := setupTestEnv(t)
	dir := filepath.Join("..", "..", "..", "samples")

	t.Run("List", func(t *testing.T) {
		out, err := executeCommand(t, "--config", path, "samples", "list", "--dir", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "ID")
		assert.Contains(t, out, "simple-fixture")
		assert.Contains(t, out, "accessible-newsletter")
	})

	t.Run("Show", func(t *testing.T) {
		out, err := executeCommand(t, "--config", path, "samples", "show", "simple-fixture", "--dir", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "Welcome to Our Newsletter")
	})

	t.Run("Unknown sample", func(t *testing.T) {
		_, err := executeCommand(t, "--config", path, "samples", "show", "nope", "--dir", dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	})

	t.Run("Send", func(t *testing.T) {
		smtpAddr, apiBase := startCapture(t)

		out, err := executeCommand(t, "--config", path, "samples", "send", "accessible-newsletter", "--dir", dir, "--addr", smtpAddr)
		require.NoError(t, err)
		assert.Contains(t, out, "✅ Test email sent successfully!")
		assert.Contains(t, out, "📧 Subject: Sample Test: ")

		client, err := mailhog.NewClient(mailhog.Config{URL: apiBase}, logging.Discard())
		require.NoError(t, err)
		msg, err := client.Latest(context.Background())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(msg.Subject(), "Sample Test: "))
		require.NotNil(t, msg.MIME)
		assert.Len(t, msg.MIME.Parts, 2)

		// samples send keeps its flags apart from send
		assert.Equal(t, smtpAddr, samplesSendOpts.addr)
		assert.Empty(t, sendOpts.addr)
	})

	t.Run("Sample name with a line break", func(t *testing.T) {
		catalogDir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(catalogDir, "email-samples"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(catalogDir, "email-samples", "evil.html"),
			[]byte("<h1>Hello</h1>"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(catalogDir, "index.json"),
			[]byte(`{"emailSamples":[{"id":"evil","name":"Evil\r\nBcc: victim@example.net","file":"evil.html"}]}`), 0644))

		out, err := executeCommand(t, "--config", path, "samples", "send", "evil", "--dir", catalogDir, "--addr", refusedAddr(t))
		require.Error(t, err)
		assert.Contains(t, out, "❌ Error sending email: ")
		assert.Contains(t, out, message.ErrInvalidHeader.Error())
	})

	t.Run("Send refused", func(t *testing.T) {
		_, err := executeCommand(t, "--config", path, "samples", "send", "simple-fixture", "--dir", dir, "--addr", refusedAddr(t))
		require.Error(t, err)

		var exit *exitError
		assert.True(t, errors.As(err, &exit))
	})
}

func TestConfigCommands(t *testing.T) {
	path := setupTestEnv(t)
	target := filepath.Join(t.TempDir(), "generated.toml")

	out, err := executeCommand(t, "--config", path, "config", "init", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to "+target)

	_, err = executeCommand(t, "--config", path, "config", "init", target)
	assert.Error(t, err)

	out, err = executeCommand(t, "--config", target, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[smtp]")
	assert.Contains(t, out, "localhost:1025")

	out, err = executeCommand(t, "--config", target, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestInvalidConfig(t *testing.T) {
	setupTestEnv(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[smtp]\ntls = \"sometimes\"\n"), 0644))

	_, err := executeCommand(t, "--config", path, "send")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading config")
}

func TestPrintEvent(t *testing.T) {
	setupTestEnv(t)
	smtpAddr, apiBase := startCapture(t)

	c := config.DefaultConfig()
	sender := c.SenderConfig()
	sender.Addr = smtpAddr
	require.NoError(t, sendFixture(context.Background(), sender, c.FixtureMessage(), c.Fixture.WebUI, new(bytes.Buffer), logging.Discard()))

	client, err := mailhog.NewClient(mailhog.Config{URL: apiBase}, logging.Discard())
	require.NoError(t, err)
	msg, err := client.Latest(context.Background())
	require.NoError(t, err)
	census, err := inspect.AnalyzeString(mailhog.HTMLBody(msg))
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	handler := printEvent(buf)
	handler(watch.Event{Kind: watch.KindNew, Message: msg, Census: census})
	assert.Contains(t, buf.String(), "📧 New message "+msg.ID)
	assert.Contains(t, buf.String(), "Issues (5):")

	buf.Reset()
	handler(watch.Event{Kind: watch.KindSkipped, Message: msg, Reason: "not addressed to other@local.test"})
	assert.Contains(t, buf.String(), "Skipped message "+msg.ID+": not addressed to other@local.test")

	buf.Reset()
	handler(watch.Event{Kind: watch.KindUnchanged, Message: msg})
	assert.Empty(t, buf.String())
}
