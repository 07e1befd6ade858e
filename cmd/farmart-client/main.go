// Package main запускает интерактивный терминальный клиент площадки Farmart.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/farmart-client/internal/api"
	"github.com/mmeshcher/farmart-client/internal/cart"
	"github.com/mmeshcher/farmart-client/internal/config"
	"github.com/mmeshcher/farmart-client/internal/layout"
	"github.com/mmeshcher/farmart-client/internal/navigator"
	"github.com/mmeshcher/farmart-client/internal/payment"
	"github.com/mmeshcher/farmart-client/internal/session"
	"github.com/mmeshcher/farmart-client/internal/storage"
)

// history ведёт стек адресов для команд go/back терминального клиента.
type history struct {
	mu    sync.Mutex
	stack []string
}

func (h *history) Push(location string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stack = append(h.stack, location)
}

// Back снимает текущий адрес и возвращает предыдущий, как кнопка назад браузера.
func (h *history) Back() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.stack) < 2 {
		return "", false
	}
	h.stack = h.stack[:len(h.stack)-1]
	return h.stack[len(h.stack)-1], true
}

// redirectAdapter приводит Navigate навигатора к сигнатуре payment.Redirector.
type redirectAdapter struct {
	nav *navigator.Navigator
}

func (r redirectAdapter) Navigate(location string) {
	r.nav.Navigate(location)
}

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	credsPath := cfg.CredentialsPath
	if credsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			sugar.Fatalw("resolve home dir", "error", err.Error())
		}
		credsPath = filepath.Join(home, ".farmart", "credentials.json")
	}

	creds, err := storage.NewFileStore(credsPath)
	if err != nil {
		sugar.Fatalw("credentials storage error", "error", err.Error())
	}

	client := api.NewClient(cfg.APIBaseURL, logger)
	sess := session.NewStore(client, creds, logger)
	client.SetTokenProvider(sess)
	client.SetUnauthorizedHandler(sess.HandleUnauthorized)

	basket := cart.NewStore(client)

	hist := &history{stack: []string{"/"}}
	nav := navigator.New(hist, sess)
	sess.Subscribe(func() { nav.Refresh() })

	orch := payment.NewOrchestrator(client, basket, redirectAdapter{nav: nav}, payment.Config{
		PhonePrefix:   cfg.PhonePrefix,
		PollInterval:  cfg.PollInterval,
		RedirectDelay: cfg.RedirectDelay,
	}, logger)

	nav.Subscribe(func(p navigator.Page) {
		fmt.Printf("-> %s [chrome: %s]\n", p, layout.ChromeFor(p, sess.Snapshot()))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap сессии завершается до первого отображения страницы.
	sess.Bootstrap(ctx)
	nav.Refresh()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		repl(ctx, stop, sess, basket, nav, hist, orch, client)
		stop()
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("client terminated with error", "error", err)
	}
}

func repl(ctx context.Context, stop func(), sess *session.Store, basket *cart.Store,
	nav *navigator.Navigator, hist *history, orch *payment.Orchestrator, client *api.Client) {

	scanner := bufio.NewScanner(os.Stdin)
	cancelWatch := func() {}

	fmt.Println("farmart client, type 'help' for commands")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help":
			fmt.Println("go <path> | back | page | login <user> <pass> | register <user> <email> <pass> <role> | logout")
			fmt.Println("shop [type] | add <id> [qty] | cart | checkout | pay <orderID> <phone> | watch <orderID> | orders | exit")
		case "go":
			if len(fields) < 2 {
				fmt.Println("usage: go <path>")
				continue
			}
			cancelWatch()
			nav.Navigate(fields[1])
		case "back":
			if loc, ok := hist.Back(); ok {
				cancelWatch()
				nav.HandleLocationChange(loc)
			} else {
				fmt.Println("history is empty")
			}
		case "page":
			p := nav.Page()
			fmt.Printf("%s at %s [chrome: %s]\n", p, nav.Current(), layout.ChromeFor(p, sess.Snapshot()))
		case "login":
			if len(fields) < 3 {
				fmt.Println("usage: login <user> <pass>")
				continue
			}
			if err := sess.Login(ctx, fields[1], fields[2]); err != nil {
				fmt.Println("login failed:", err)
				continue
			}
			fmt.Println("logged in as", sess.Snapshot().Username)
		case "register":
			if len(fields) < 5 {
				fmt.Println("usage: register <user> <email> <pass> <role>")
				continue
			}
			err := sess.Register(ctx, api.RegisterRequest{
				Username:   fields[1],
				Email:      fields[2],
				Password:   fields[3],
				RePassword: fields[3],
				UserType:   fields[4],
			})
			if err != nil {
				var ve *api.ValidationError
				if errors.As(err, &ve) {
					for field, msg := range ve.FieldErrors {
						fmt.Printf("  %s: %s\n", field, msg)
					}
					continue
				}
				fmt.Println("registration failed:", err)
				continue
			}
			fmt.Println("registered, you can log in now")
		case "logout":
			sess.Logout()
			fmt.Println("logged out")
		case "shop":
			filter := api.AnimalFilter{}
			if len(fields) > 1 {
				filter.Type = fields[1]
			}
			animals, err := client.ListAnimals(ctx, filter)
			if err != nil {
				fmt.Println("listing failed:", err)
				continue
			}
			for _, a := range animals {
				fmt.Printf("  #%d %s (%s/%s) Ksh %d.%02d\n", a.ID, a.Name, a.Type, a.Breed, a.PriceCents/100, a.PriceCents%100)
			}
		case "add":
			if len(fields) < 2 {
				fmt.Println("usage: add <id> [qty]")
				continue
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("bad animal id")
				continue
			}
			qty := 1
			if len(fields) > 2 {
				if n, err := strconv.Atoi(fields[2]); err == nil {
					qty = n
				}
			}
			animals, err := client.ListAnimals(ctx, api.AnimalFilter{})
			if err != nil {
				fmt.Println("listing failed:", err)
				continue
			}
			found := false
			for _, a := range animals {
				if a.ID == id {
					basket.Add(a, qty)
					found = true
					break
				}
			}
			if !found {
				fmt.Println("no such animal")
				continue
			}
			fmt.Printf("cart: %d item(s)\n", basket.ItemCount())
		case "cart":
			for _, item := range basket.Items() {
				fmt.Printf("  #%d %s x%d @ Ksh %d.%02d\n", item.AnimalID, item.Name, item.Quantity, item.UnitPriceCents/100, item.UnitPriceCents%100)
			}
			total := basket.TotalPriceCents()
			fmt.Printf("  total: Ksh %d.%02d\n", total/100, total%100)
		case "checkout":
			order, err := orch.SubmitOrder(ctx)
			if err != nil {
				fmt.Println("checkout failed:", err)
				continue
			}
			fmt.Printf("order #%d created, total Ksh %d.%02d, pay with: pay %d %s...\n",
				order.ID, order.TotalCents/100, order.TotalCents%100, order.ID, orch.DefaultPhone())
		case "pay":
			if len(fields) < 3 {
				fmt.Println("usage: pay <orderID> <phone>")
				continue
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("bad order id")
				continue
			}
			attempt, err := orch.InitiatePayment(ctx, id, fields[2])
			if err != nil {
				fmt.Println("payment failed:", err)
				continue
			}
			fmt.Printf("payment %s: check your phone for the mobile money prompt\n", attempt.Status)
			cancelWatch()
			cancelWatch = orch.WatchOrder(ctx, id)
		case "watch":
			if len(fields) < 2 {
				fmt.Println("usage: watch <orderID>")
				continue
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("bad order id")
				continue
			}
			cancelWatch()
			cancelWatch = orch.WatchOrder(ctx, id)
		case "orders":
			orders, err := client.ListOrders(ctx)
			if err != nil {
				fmt.Println("orders failed:", err)
				continue
			}
			for _, o := range orders {
				fmt.Printf("  order #%d %s Ksh %d.%02d\n", o.ID, o.Status, o.TotalCents/100, o.TotalCents%100)
			}
		case "exit", "quit":
			cancelWatch()
			stop()
			return
		default:
			fmt.Println("unknown command, type 'help'")
		}
	}
}
