package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/itsneelabh/storefront/internal/view"
	"github.com/itsneelabh/storefront/pkg/api"
	"github.com/itsneelabh/storefront/pkg/controller"
)

const helpText = `Commands:
  catalog                          show the products
  login <email> <password>         sign in
  register <name> <email> <password>
  logout                           sign out
  add <n>                          add product number n from the catalog
  dec <product-id>                 remove one unit from the cart
  rm <product-id>                  remove a line from the cart
  cart                             show or hide the cart
  checkout                         place an order for the cart
  orders                           show your order history
  page <catalog|login|register|orders>
  dismiss                          clear messages
  help                             this text
  quit                             leave
`

var errQuit = errors.New("quit")

// errUsage is reported to the user without touching the controller state
type errUsage string

func (e errUsage) Error() string { return string(e) }

type shell struct {
	ctrl *controller.Controller
	view *view.Renderer
	in   io.Reader
	out  io.Writer
}

func newShell(ctrl *controller.Controller, renderer *view.Renderer, in io.Reader, out io.Writer) *shell {
	return &shell{ctrl: ctrl, view: renderer, in: in, out: out}
}

// Run restores the session, loads the catalog and then reads commands until
// quit, end of input or ctx is done.
func (s *shell) Run(ctx context.Context) error {
	s.ctrl.Restore(ctx)
	_ = s.ctrl.LoadCatalog(ctx)
	if err := s.render(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		err := s.exec(ctx, scanner.Text())
		var usage errUsage
		switch {
		case errors.Is(err, errQuit):
			return nil
		case errors.As(err, &usage):
			fmt.Fprintf(s.out, "usage: %s\n", usage)
			continue
		}
		// action failures are already part of the rendered state
		if err := s.render(); err != nil {
			return err
		}
	}
}

func (s *shell) render() error {
	return s.view.Render(s.out, s.ctrl.State())
}

func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		fmt.Fprint(s.out, helpText)
		return nil
	case "catalog", "products":
		if err := s.ctrl.Navigate(controller.PageCatalog); err != nil {
			return err
		}
		return s.ctrl.LoadCatalog(ctx)
	case "login":
		if len(args) != 2 {
			return errUsage("login <email> <password>")
		}
		return s.ctrl.Login(ctx, args[0], args[1])
	case "register":
		if len(args) < 3 {
			return errUsage("register <name> <email> <password>")
		}
		n := len(args)
		return s.ctrl.Register(ctx, strings.Join(args[:n-2], " "), args[n-2], args[n-1])
	case "logout":
		s.ctrl.Logout(ctx)
		return nil
	case "add":
		p, err := s.pick(args)
		if err != nil {
			return err
		}
		return s.ctrl.AddToCart(ctx, p)
	case "dec", "rm":
		if len(args) != 1 {
			return errUsage(cmd + " <product-id>")
		}
		if cmd == "dec" {
			return s.ctrl.DecrementLine(ctx, api.ID(args[0]))
		}
		return s.ctrl.RemoveLine(ctx, api.ID(args[0]))
	case "cart":
		s.ctrl.ToggleCart()
		return nil
	case "checkout":
		return s.ctrl.Checkout(ctx)
	case "orders":
		return s.ctrl.LoadOrders(ctx)
	case "page":
		if len(args) != 1 {
			return errUsage("page <catalog|login|register|orders>")
		}
		page, err := controller.ParsePage(args[0])
		if err != nil {
			return errUsage("page <catalog|login|register|orders>")
		}
		return s.ctrl.Navigate(page)
	case "dismiss":
		s.ctrl.DismissMessages()
		return nil
	}
	return errUsage(fmt.Sprintf("unknown command %q, type help", cmd))
}

// pick resolves a 1-based catalog position
func (s *shell) pick(args []string) (api.Product, error) {
	if len(args) != 1 {
		return api.Product{}, errUsage("add <n>")
	}
	products := s.ctrl.State().Products
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(products) {
		return api.Product{}, errUsage(fmt.Sprintf("add <n> with n between 1 and %d", len(products)))
	}
	return products[n-1], nil
}
