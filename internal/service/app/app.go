package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"blind_relay/internal/model"
	"blind_relay/internal/protocol/frame"
	"blind_relay/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	Options struct {
		Server   string
		Name     string
		Password string
		// To opens a direct conversation; RoomSecret joins a room instead.
		To         string
		RoomSecret string
		KeyDir     string
	}

	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		opts   Options
		api    *API
		keys   *Keystore
		cipher *Cipher
		roomID string

		conn    *websocket.Conn
		writeMu sync.Mutex
	}

	// outbound is what the client puts on the wire.
	outbound struct {
		Type       frame.Type `json:"type"`
		Identity   string     `json:"identity,omitempty"`
		Token      string     `json:"token,omitempty"`
		RoomID     string     `json:"roomId,omitempty"`
		To         string     `json:"to,omitempty"`
		IV         string     `json:"iv,omitempty"`
		Ciphertext string     `json:"ciphertext,omitempty"`
	}
)

func NewApp(opts Options) *App {
	if opts.KeyDir == "" {
		opts.KeyDir = DefaultKeyDir()
	}
	return &App{
		app:  tview.NewApplication(),
		opts: opts,
		api:  NewAPI(opts.Server),
	}
}

func (c *App) inRoom() bool {
	return c.opts.RoomSecret != ""
}

// Run sets up keys and the conversation, then blocks in the UI until the
// user quits.
func (c *App) Run(ctx context.Context) error {
	if err := model.ValidateDisplayName(c.opts.Name); err != nil {
		return err
	}
	if !c.inRoom() && c.opts.To == "" {
		return fmt.Errorf("%w: a recipient or a room secret is required", model.ErrInvalidInput)
	}

	keys, created, err := LoadOrCreateKeystore(c.opts.KeyDir, c.opts.Name)
	if err != nil {
		return err
	}
	c.keys = keys

	err = c.api.Register(ctx, c.opts.Name, c.opts.Password, keys.PublicKey)
	switch {
	case err == nil:
		log.Info("identity registered", zap.String("name", c.opts.Name))
	case errors.Is(err, model.ErrConflict) && created:
		return fmt.Errorf("%s is registered with a key this device does not hold", c.opts.Name)
	case !errors.Is(err, model.ErrConflict):
		return err
	}

	if c.opts.Password != "" {
		if err := c.api.Login(ctx, c.opts.Name, c.opts.Password); err != nil {
			return err
		}
	}

	history, err := c.openConversation(ctx)
	if err != nil {
		return err
	}

	if c.conn, err = c.api.Dial(ctx); err != nil {
		return err
	}
	defer c.conn.Close()

	if err := c.bind(); err != nil {
		return err
	}

	c.buildUI()
	for _, env := range history {
		fmt.Fprintln(c.chatbox, c.describeEnvelope(env))
	}

	go c.listen()
	return c.app.Run()
}

func (c *App) Stop() {
	c.app.Stop()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *App) openConversation(ctx context.Context) ([]model.Envelope, error) {
	if c.inRoom() {
		cipher, roomID, err := NewRoomCipher(c.opts.RoomSecret)
		if err != nil {
			return nil, err
		}
		c.cipher, c.roomID = cipher, roomID
		return c.api.RoomHistory(ctx, roomID)
	}

	peer, err := c.api.Lookup(ctx, c.opts.To)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", c.opts.To, err)
	}
	if c.cipher, err = NewDirectCipher(c.keys, peer.PublicKey, c.opts.Name, c.opts.To); err != nil {
		return nil, err
	}
	return c.api.DirectHistory(ctx, c.opts.Name, c.opts.To)
}

func (c *App) bind() error {
	if c.inRoom() {
		return c.write(outbound{Type: frame.TypeJoin, RoomID: c.roomID})
	}
	return c.write(outbound{Type: frame.TypeAuth, Identity: c.opts.Name, Token: c.api.Token()})
}

func (c *App) write(out outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(out)
}

func (c *App) buildUI() {
	title := fmt.Sprintf(" Chat with %s ", c.opts.To)
	if c.inRoom() {
		title = " Encrypted room "
	}

	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(title)

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(msg string) {
			if err := c.SendMessage(msg); err != nil {
				c.printf("[red]send failed:[-] %v", err)
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	c.app.SetRoot(layout, true).SetFocus(c.input)
}

func (c *App) printf(format string, args ...any) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, format+"\n", args...)
		c.chatbox.ScrollToEnd()
	})
}

func (c *App) listen() {
	for {
		var in frame.Outbound
		if err := c.conn.ReadJSON(&in); err != nil {
			log.Debug("relay connection closed", zap.Error(err))
			c.printf("[red]disconnected from relay[-]")
			return
		}
		if line, ok := c.describeFrame(in); ok {
			c.printf("%s", line)
		}
	}
}

func (c *App) SendMessage(msg string) error {
	iv, ct, err := c.cipher.Seal(msg)
	if err != nil {
		return err
	}

	out := outbound{Type: frame.TypeDM, To: c.opts.To, IV: iv, Ciphertext: ct}
	if c.inRoom() {
		out = outbound{Type: frame.TypeMessage, IV: iv, Ciphertext: ct}
	}
	if err := c.write(out); err != nil {
		return err
	}

	c.printf("[yellow]You:[-] %s", tview.Escape(msg))
	return nil
}

// describeFrame renders one relay frame for the chat box. ok is false for
// frames that have nothing to show.
func (c *App) describeFrame(in frame.Outbound) (line string, ok bool) {
	switch in.Type {
	case frame.TypeAuthOK:
		return fmt.Sprintf("[gray]signed in as %s[-]", tview.Escape(in.To)), true
	case frame.TypeWelcome:
		return fmt.Sprintf("[gray]%s[-]", tview.Escape(in.Message)), true
	case frame.TypeError:
		return fmt.Sprintf("[red]relay: %s[-]", tview.Escape(in.Message)), true
	case frame.TypeDM:
		if !model.SameName(in.From, c.opts.To) {
			return fmt.Sprintf("[gray]new message from %s, open a chat with them to read it[-]", tview.Escape(in.From)), true
		}
		return c.describeCiphertext(in.From, in.IV, in.Ciphertext), true
	case frame.TypeMessage:
		return c.describeCiphertext("", in.IV, in.Ciphertext), true
	default:
		return "", false
	}
}

func (c *App) describeEnvelope(env model.Envelope) string {
	if c.inRoom() {
		return c.describeCiphertext("", env.IV, env.Ciphertext)
	}
	if model.SameName(env.From, c.opts.Name) {
		plain, err := c.cipher.Open(env.IV, env.Ciphertext)
		if err != nil {
			return "[red]You: <cannot decrypt>[-]"
		}
		return fmt.Sprintf("[yellow]You:[-] %s", tview.Escape(plain))
	}
	return c.describeCiphertext(env.From, env.IV, env.Ciphertext)
}

func (c *App) describeCiphertext(from, iv, ciphertext string) string {
	label := from
	if label == "" {
		label = "anon"
	}
	plain, err := c.cipher.Open(iv, ciphertext)
	if err != nil {
		return fmt.Sprintf("[red]%s: <cannot decrypt>[-]", tview.Escape(label))
	}
	return fmt.Sprintf("[green]%s:[-] %s", tview.Escape(label), tview.Escape(plain))
}
