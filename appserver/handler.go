package appserver

// handler.go implements the pipe-delimited command protocol. One framed
// message carries one command; the reply is a single framed message. Error
// replies use the ERRxx code families: ERR01 malformed request, ERR02 not
// found or bad credentials, ERR03 authorization or resource conflict,
// ERR99 internal.

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/encoding"
	"github.com/water-bottle-afk/aurex/modules/market"
	"github.com/water-bottle-afk/aurex/modules/pipeline"
)

// Error reply codes.
const (
	errMalformed = "ERR01"
	errNotFound  = "ERR02"
	errConflict  = "ERR03"
	errInternal  = "ERR99"
)

// A session tracks one client connection's login binding.
type session struct {
	username string
}

// threadedHandleSession runs the command loop for one connection. The
// session binding lives and dies with the connection.
func (srv *Server) threadedHandleSession(conn net.Conn) {
	s := &session{}
	for {
		frame, err := encoding.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				srv.log.Println("WARN: session read failed:", err)
			}
			return
		}
		reply := srv.dispatch(s, string(frame))
		if err := encoding.WriteFrame(conn, []byte(reply)); err != nil {
			srv.log.Println("WARN: session write failed:", err)
			return
		}
		select {
		case <-srv.tg.StopChan():
			return
		default:
		}
	}
}

// dispatch routes one command line to its handler.
func (srv *Server) dispatch(s *session, line string) string {
	parts := strings.Split(line, "|")
	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "SIGNUP":
		return srv.handleSignup(args)
	case "LOGIN":
		return srv.handleLogin(s, args)
	case "LOGOUT":
		s.username = ""
		return "OK|LOGGED_OUT"
	case "BUY":
		return srv.handleBuy(s, args)
	case "GET_TX_STATUS":
		return srv.handleTxStatus(args)
	case "GET_ITEMS":
		return srv.handleGetItems()
	case "GET_PROFILE":
		return srv.handleGetProfile(args)
	case "GET_BALANCE":
		return srv.handleGetBalance(s, args)
	}
	return errMalformed + "|Unknown command: " + cmd
}

// handleSignup creates an account: SIGNUP|username|password|email.
func (srv *Server) handleSignup(args []string) string {
	if len(args) < 3 || args[0] == "" || args[1] == "" {
		return errMalformed + "|SIGNUP requires username, password, email"
	}
	username, password, email := args[0], args[1], args[2]
	err := srv.market.Signup(username, password, email)
	if errors.Contains(err, market.ErrUserExists) {
		return errConflict + "|Username or email already registered"
	}
	if err != nil {
		srv.log.Println("ERROR: signup failed:", err)
		return errInternal + "|Internal error"
	}
	srv.log.Println("INFO: new account", username)
	return "OK|" + username
}

// handleLogin binds the session: LOGIN|username|password.
func (srv *Server) handleLogin(s *session, args []string) string {
	if len(args) < 2 {
		return errMalformed + "|LOGIN requires username, password"
	}
	u, err := srv.market.Authenticate(args[0], args[1])
	if err != nil {
		return errNotFound + "|Invalid credentials"
	}
	s.username = u.Username
	return "OK|" + u.Username + "|" + u.Email
}

// handleBuy enters the purchase pipeline: BUY|asset_id|username|amount.
func (srv *Server) handleBuy(s *session, args []string) string {
	if len(args) < 3 {
		return errMalformed + "|BUY requires asset_id, username, amount"
	}
	assetID, buyer := args[0], args[1]
	amount, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return errMalformed + "|Invalid amount: " + args[2]
	}
	if s.username == "" || s.username != buyer {
		return errConflict + "|Not authorized for buyer " + buyer
	}

	txID, err := srv.pipeline.Buy(buyer, assetID, amount)
	switch {
	case err == nil:
	case errors.Contains(err, market.ErrAssetNotFound):
		return errNotFound + "|Asset not found"
	case errors.Contains(err, market.ErrUserNotFound):
		return errNotFound + "|User not found"
	case errors.Contains(err, pipeline.ErrInsufficientFunds):
		return errConflict + "|Insufficient funds"
	case errors.Contains(err, pipeline.ErrAssetUnavailable):
		return errConflict + "|Asset is not listed for sale"
	case errors.Contains(err, pipeline.ErrOwnAsset):
		return errConflict + "|Asset already owned by buyer"
	case errors.Contains(err, pipeline.ErrPriceMismatch):
		return errMalformed + "|Amount does not match asset cost"
	default:
		srv.log.Println("ERROR: buy failed:", err)
		return errInternal + "|Internal error"
	}
	return "OK|PENDING|" + txID
}

// handleTxStatus reports a purchase's status: GET_TX_STATUS|tx_id.
func (srv *Server) handleTxStatus(args []string) string {
	if len(args) < 1 || args[0] == "" {
		return errMalformed + "|GET_TX_STATUS requires tx_id"
	}
	record, ok := srv.pipeline.Status(args[0])
	if !ok {
		return errNotFound + "|Unknown transaction"
	}
	return "OK|" + record.Status.Wire() + "|" + record.Message
}

// handleGetItems lists assets for sale: GET_ITEMS|.
func (srv *Server) handleGetItems() string {
	assets, err := srv.market.ListedAssets()
	if err != nil {
		srv.log.Println("ERROR: listing assets failed:", err)
		return errInternal + "|Internal error"
	}
	if assets == nil {
		assets = []market.Asset{}
	}
	encoded, err := json.Marshal(assets)
	if err != nil {
		return errInternal + "|Internal error"
	}
	return "OK|" + string(encoded)
}

// handleGetProfile returns account details: GET_PROFILE|username.
func (srv *Server) handleGetProfile(args []string) string {
	if len(args) < 1 || args[0] == "" {
		return errMalformed + "|GET_PROFILE requires username"
	}
	u, err := srv.market.User(args[0])
	if err != nil {
		return errNotFound + "|User not found"
	}
	return "OK|" + u.Username + "|" + u.Email + "|" + u.CreatedAt
}

// handleGetBalance returns the session owner's wallet balance:
// GET_BALANCE|username.
func (srv *Server) handleGetBalance(s *session, args []string) string {
	if len(args) < 1 || args[0] == "" {
		return errMalformed + "|GET_BALANCE requires username"
	}
	if s.username == "" || s.username != args[0] {
		return errConflict + "|Not authorized for user " + args[0]
	}
	balance, err := srv.market.Balance(args[0])
	if err != nil {
		return errNotFound + "|User not found"
	}
	return fmt.Sprintf("OK|%.2f", balance)
}
