package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCommand   = errors.New("empty command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
	ErrInvalidNumber  = errors.New("invalid number")
)

var usage = map[string]string{
	"add":     "add <productId> <price> [quantity] [salePrice]",
	"update":  "update <productId> <quantity>",
	"remove":  "remove <productId>",
	"clear":   "clear",
	"login":   "login <accessToken>",
	"logout":  "logout",
	"refresh": "refresh",
	"show":    "show",
	"help":    "help",
}

// Usage lists the accepted command forms in a stable order
func Usage() []string {
	return []string{
		usage["add"], usage["update"], usage["remove"], usage["clear"],
		usage["login"], usage["logout"], usage["refresh"], usage["show"], usage["help"],
	}
}

// Parse turns one input line into a typed command
func Parse(line string) (any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "add":
		return parseAdd(args)
	case "update", "set":
		if len(args) != 2 {
			return nil, usageError("update")
		}
		qty, err := parseInt(args[1])
		if err != nil {
			return nil, err
		}
		return UpdateQuantity{ProductID: args[0], Quantity: qty}, nil
	case "remove", "rm":
		if len(args) != 1 {
			return nil, usageError("remove")
		}
		return RemoveItem{ProductID: args[0]}, nil
	case "clear":
		if err := noArgs("clear", args); err != nil {
			return nil, err
		}
		return ClearCart{}, nil
	case "login":
		if len(args) != 1 {
			return nil, usageError("login")
		}
		return Login{Token: args[0]}, nil
	case "logout":
		if err := noArgs("logout", args); err != nil {
			return nil, err
		}
		return Logout{}, nil
	case "refresh":
		if err := noArgs("refresh", args); err != nil {
			return nil, err
		}
		return Refresh{}, nil
	case "show", "ls":
		if err := noArgs("show", args); err != nil {
			return nil, err
		}
		return Show{}, nil
	case "help", "?":
		return Help{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

func parseAdd(args []string) (any, error) {
	if len(args) < 2 || len(args) > 4 {
		return nil, usageError("add")
	}
	price, err := parseDecimal(args[1])
	if err != nil {
		return nil, err
	}
	cmd := AddItem{
		ProductID: args[0],
		Name:      "Product " + args[0],
		Price:     price,
		Quantity:  1,
	}
	if len(args) >= 3 {
		if cmd.Quantity, err = parseInt(args[2]); err != nil {
			return nil, err
		}
	}
	if len(args) == 4 {
		sale, err := parseDecimal(args[3])
		if err != nil {
			return nil, err
		}
		cmd.SalePrice = decimal.NewNullDecimal(sale)
	}
	return cmd, nil
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return n, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return d, nil
}

func usageError(name string) error {
	return fmt.Errorf("%w: %s", ErrUsage, usage[name])
}

func noArgs(name string, args []string) error {
	if len(args) > 0 {
		return usageError(name)
	}
	return nil
}
