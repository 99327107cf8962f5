package msgclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultStatePath = "dmctl-state.json"
	defaultBaseURL   = "http://localhost:8085"
)

type stateFile struct {
	BaseURL  string `json:"base_url"`
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type UsageError struct {
	Program string
}

func (u UsageError) Error() string {
	if u.Program == "" {
		u.Program = "dmctl"
	}
	return fmt.Sprintf("Usage: %s <command> [options]", u.Program)
}

func (UsageError) UsageLines() []string {
	return []string{
		"Commands:",
		"  signup    Create an account and store the session token",
		"  login     Log in with email, username or mobile",
		"  logout    Close live connections and forget the token",
		"  me        Show the current profile",
		"  users     List the other active users",
		"  search    Find users by name, username or email",
		"  send      Send a message to a user",
		"  upload    Upload a file and print its attachment descriptor",
		"  history   Print the conversation with a user",
		"  chats     List conversations",
		"  listen    Stay connected and print live events",
	}
}

// RunCLI runs one dmctl command. out receives command output.
func RunCLI(prog string, args []string, out, stderr io.Writer) error {
	if len(args) < 1 {
		return UsageError{Program: prog}
	}
	if out == nil {
		out = os.Stdout
	}
	cmd, rest := args[0], args[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd {
	case "signup":
		err = runSignup(ctx, rest, out)
	case "login":
		err = runLogin(ctx, rest, out)
	case "logout":
		err = runLogout(ctx, rest, out)
	case "me":
		err = runMe(ctx, rest, out)
	case "users":
		err = runUsers(ctx, rest, out)
	case "search":
		err = runSearch(ctx, rest, out)
	case "send":
		err = runSend(ctx, rest, out)
	case "upload":
		err = runUpload(ctx, rest, out)
	case "history":
		err = runHistory(ctx, rest, out)
	case "chats":
		err = runChats(ctx, rest, out)
	case "listen":
		err = runListen(ctx, rest, out)
	default:
		return UsageError{Program: prog}
	}
	if err != nil {
		if stderr == nil {
			stderr = os.Stderr
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return err
}

func newFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("DMCTL_STATE_PATH", defaultStatePath), "state file path")
	return fs, statePath
}

func runSignup(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("signup")
	baseURL := fs.String("url", getenv("DMCTL_URL", defaultBaseURL), "server base URL")
	var req SignupRequest
	fs.StringVar(&req.Name, "name", "", "display name")
	fs.StringVar(&req.Username, "username", "", "username")
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Mobile, "mobile", "", "mobile number (optional)")
	fs.StringVar(&req.Password, "password", os.Getenv("DMCTL_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c := New(*baseURL)
	res, err := c.Signup(ctx, req)
	if err != nil {
		return err
	}
	if err := saveState(*statePath, stateFile{BaseURL: c.BaseURL(), Token: res.Token, UserID: res.User.ID, Username: res.User.Username}); err != nil {
		return err
	}
	fmt.Fprintf(out, "signed up: user=%s id=%s\n", res.User.Username, res.User.ID)
	return nil
}

func runLogin(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("login")
	baseURL := fs.String("url", getenv("DMCTL_URL", defaultBaseURL), "server base URL")
	identifier := fs.String("id", "", "email, username or mobile")
	password := fs.String("password", os.Getenv("DMCTL_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*identifier) == "" {
		return fmt.Errorf("identifier is required")
	}
	c := New(*baseURL)
	res, err := c.Login(ctx, *identifier, *password)
	if err != nil {
		return err
	}
	if err := saveState(*statePath, stateFile{BaseURL: c.BaseURL(), Token: res.Token, UserID: res.User.ID, Username: res.User.Username}); err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in: user=%s id=%s expires=%s\n", res.User.Username, res.User.ID, res.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runLogout(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("logout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, st, err := loadClient(*statePath)
	if err != nil {
		return err
	}
	if err := c.Logout(ctx); err != nil {
		return err
	}
	st.Token = ""
	if err := saveState(*statePath, st); err != nil {
		return err
	}
	fmt.Fprintln(out, "logged out")
	return nil
}

func runMe(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("me")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, _, err := loadClient(*statePath)
	if err != nil {
		return err
	}
	u, err := c.Me(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, u)
}

func runSearch(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("search")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, _, err := loadClient(*statePath)
	if err != nil {
		return err
	}
	users, err := c.SearchUsers(ctx, strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}
	printUsers(out, users)
	return nil
}

func runUsers(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("users")
	limit := fs.Int("limit", 0, "maximum users to list (server default when 0)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, _, err := loadClient(*statePath)
	if err != nil {
		return err
	}
	users, err := c.Users(ctx, *limit)
	if err != nil {
		return err
	}
	printUsers(out, users)
	return nil
}

func printUsers(out io.Writer, users []User) {
	for _, u := range users {
		online := "offline"
		if u.IsOnline {
			online = "online"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Name, online)
	}
}

func runSend(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("send")
	to := fs.String("to", "", "recipient user id")
	message := fs.String("message", "", "message text (if empty and no attachment, read stdin)")
	attachment := fs.String("attach", "", "attachment descriptor JSON printed by upload")
	clientID := fs.String("client-id", "", "idempotency key (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*to) == "" {
		return fmt.Errorf("recipient id is required")
	}
	req := SendRequest{Text: *message, ClientMsgID: *clientID}
	if *attachment != "" {
		var att Attachment
		if err := json.Unmarshal([]byte(*attachment), &att); err != nil {
			return fmt.Errorf("invalid attachment: %w", err)
		}
		req.Attachments = []Attachment{att}
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		req.Text = strings.TrimRight(string(data), "\n")
	}
	if req.ClientMsgID == "" {
		req.ClientMsgID = uuid.NewString()
	}

	c, _, err := loadClient(*statePath)
	if err != nil {
		return err
	}
	m, err := c.Send(ctx, *to, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sent: id=%s seq=%d\n", m.ID, m.Seq)
	return nil
}

func runUpload(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("upload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("upload takes exactly one file path")
	}
	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	c, _, err := loadClient(*statePath)
	if err != nil {
		return err
	}
	att, err := c.Upload(ctx, filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), f)
	if err != nil {
		return err
	}
	data, err := json.Marshal(att)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func runHistory(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("history")
	with := fs.String("with", "", "peer user id")
	after := fs.Int64("after", 0, "seq cursor")
	limit := fs.Int("limit", 0, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*with) == "" {
		return fmt.Errorf("peer id is required")
	}
	c, _, err := loadClient(*statePath)
	if err != nil {
		return err
	}
	page, err := c.History(ctx, *with, *after, *limit)
	if err != nil {
		return err
	}
	for _, m := range page.Messages {
		printMessage(out, m)
	}
	if page.NextCursor > 0 {
		fmt.Fprintf(out, "more: -after %d\n", page.NextCursor)
	}
	return nil
}

func runChats(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("chats")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, _, err := loadClient(*statePath)
	if err != nil {
		return err
	}
	list, err := c.Conversations(ctx)
	if err != nil {
		return err
	}
	for _, conv := range list {
		who := conv.PeerID
		if conv.Peer != nil {
			who = conv.Peer.Username
		}
		fmt.Fprintf(out, "%s\tunread=%d\t%s\t%s\n", who, conv.UnreadCount,
			conv.LastMessage.CreatedAt.Format(time.RFC3339), preview(conv.LastMessage))
	}
	return nil
}

func runListen(ctx context.Context, args []string, out io.Writer) error {
	fs, statePath := newFlags("listen")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, _, err := loadClient(*statePath)
	if err != nil {
		return err
	}
	live, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = live.Close() }()

	w := bufio.NewWriter(out)
	defer func() { _ = w.Flush() }()
	for {
		ev, err := live.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrLiveClosed) {
				return nil
			}
			return err
		}
		switch ev.Type {
		case "delivered", "sent":
			if ev.Message != nil {
				fmt.Fprintf(w, "%s ", ev.Type)
				printMessage(w, *ev.Message)
			}
		case "send_error":
			fmt.Fprintf(w, "send_error reason=%s client_id=%s\n", ev.Reason, ev.ClientMsgID)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}

func printMessage(out io.Writer, m Message) {
	fmt.Fprintf(out, "[%s] #%d %s -> %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.Seq, m.SenderID, m.RecipientID, preview(m))
}

func preview(m Message) string {
	text := m.Text
	for _, a := range m.Attachments {
		if text != "" {
			text += " "
		}
		text += "[" + a.Filename + "]"
	}
	return text
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadClient(path string) (*Client, stateFile, error) {
	st, err := loadState(path)
	if err != nil {
		return nil, stateFile{}, err
	}
	if st.Token == "" {
		return nil, st, fmt.Errorf("not logged in (state %s)", path)
	}
	return New(st.BaseURL, WithToken(st.Token)), st, nil
}

func loadState(path string) (stateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stateFile{}, fmt.Errorf("no state at %s, run signup or login first", path)
		}
		return stateFile{}, err
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		return stateFile{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func saveState(path string, st stateFile) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
