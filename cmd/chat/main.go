package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acadex/acadex-client/config"
	"github.com/acadex/acadex-client/internal/api"
	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/notify"
	"github.com/acadex/acadex-client/internal/realtime"
	"github.com/acadex/acadex-client/internal/session"
	"github.com/acadex/acadex-client/internal/storage"
	"github.com/acadex/acadex-client/pkg/httpclient"
	"github.com/acadex/acadex-client/pkg/logger"
	"github.com/acadex/acadex-client/pkg/tracing"
)

// chat is a console demo of the full client core: durable session store,
// REST facade with the 401 sweep, the realtime channel manager and the
// notification counter poller, wired together the way an embedding UI
// would wire them.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	err = logger.Initialize(logger.Config{
		Level:       cfg.Logging.Level,
		LogDir:      cfg.Logging.Dir,
		Environment: cfg.AppEnv,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tracerShutdown, err := tracing.InitTracer(
		cfg.Observability.ServiceName,
		cfg.Observability.ServiceNamespace,
		cfg.Observability.ServiceVersion,
		cfg.Observability.ServiceInstanceID,
		cfg.AppEnv,
		cfg.Observability.CollectorEndpoint,
	)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerShutdown(ctx)
	}()

	store := storage.New(cfg.Storage.Path)
	sessions := session.New(store)

	apiClient := api.New(cfg.API, sessions, api.WithUnauthorizedHook(func() {
		fmt.Println("! session rejected by the server, signed out")
	}))

	manager := realtime.NewManager(cfg.Realtime, cfg.ChannelBaseURL(), sessions,
		realtime.WithForceLogoutHook(func(notice realtime.ForceLogoutNotice) {
			fmt.Printf("! signed out by the server: %s\n", notice.Message)
		}))
	manager.Start()
	defer manager.Stop()

	poller := notify.New(apiClient, sessions, cfg.Notifications.PollInterval)
	poller.Start()
	defer poller.Stop()

	unwatch := sessions.Watch(func(_, current *models.Principal) {
		if current.IsGuest() {
			fmt.Println("* session: guest")
			return
		}
		fmt.Printf("* session: %s (%s)\n", current.Name, current.Role)
	})
	defer unwatch()

	if current := sessions.Current(); current != nil {
		fmt.Printf("* restored session for %s\n", current.Name)
	}

	cli := &console{
		cfg:      cfg,
		sessions: sessions,
		manager:  manager,
		poller:   poller,
		relay:    httpclient.NewClientWithTimeout(10 * time.Second),
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("acadex chat demo; type 'help' for commands")
	for {
		fmt.Print("> ")
		select {
		case <-quit:
			fmt.Println("\nbye")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !cli.dispatch(strings.Fields(line)) {
				return
			}
		}
	}
}

type console struct {
	cfg      *config.Config
	sessions *session.Store
	manager  *realtime.Manager
	poller   *notify.Poller
	relay    httpclient.Client
}

// dispatch runs one command; returns false to exit
func (c *console) dispatch(args []string) bool {
	if len(args) == 0 {
		return true
	}

	switch args[0] {
	case "help":
		fmt.Println(`commands:
  login <user_id> <role>        mint a dev token and sign in
  logout                        sign out
  state                         channel connection state
  online                        online-user roster
  counts                        notification counters
  join <conversation>           subscribe to a conversation
  leave <conversation>          unsubscribe from a conversation
  send <conversation> <receiver> <text...>
  typing <conversation> <receiver>
  read <conversation> <message_id...>
  quit`)

	case "login":
		if len(args) != 3 {
			fmt.Println("usage: login <user_id> <role>")
			break
		}
		c.login(args[1], args[2])

	case "logout":
		c.sessions.Logout()

	case "state":
		fmt.Printf("channel: %s\n", c.manager.State())

	case "online":
		for _, id := range c.manager.Roster() {
			fmt.Println(id)
		}

	case "counts":
		counts := c.poller.Counts()
		fmt.Printf("unread: %d, pending recommendations: %d\n",
			counts.Unread, counts.PendingRecommendations)

	case "join":
		if len(args) == 2 {
			c.manager.JoinConversation(args[1])
		}

	case "leave":
		if len(args) == 2 {
			c.manager.LeaveConversation(args[1])
		}

	case "send":
		if len(args) < 4 {
			fmt.Println("usage: send <conversation> <receiver> <text...>")
			break
		}
		c.manager.SendMessage(models.SendMessageIntent{
			ConversationID: args[1],
			ReceiverID:     args[2],
			Content:        strings.Join(args[3:], " "),
		})

	case "typing":
		if len(args) == 3 {
			c.manager.StartTyping(args[1], args[2])
			time.AfterFunc(2*time.Second, func() { c.manager.StopTyping(args[1], args[2]) })
		}

	case "read":
		if len(args) >= 3 {
			c.manager.MarkMessagesRead(args[1], args[2:])
		}

	case "quit", "exit":
		return false

	default:
		fmt.Printf("unknown command %q\n", args[0])
	}
	return true
}

// login mints a development token from the relay and signs the session in
func (c *console) login(userID, role string) {
	if !models.Role(role).Valid() {
		fmt.Printf("unknown role %q\n", role)
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"user_id": userID,
		"email":   userID + "@acadex.local",
		"name":    userID,
		"role":    role,
	})
	resp, err := c.relay.Post(c.cfg.ChannelBaseURL()+"/auth/token", "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Printf("token mint failed: %v\n", err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("token mint returned status %d\n", resp.StatusCode)
		return
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Printf("malformed token response: %v\n", err)
		return
	}

	principal := &models.Principal{
		ID:    userID,
		Name:  userID,
		Email: userID + "@acadex.local",
		Role:  models.Role(role),
	}
	if err := c.sessions.Login(principal, out.Token); err != nil {
		fmt.Printf("login failed: %v\n", err)
	}
}
