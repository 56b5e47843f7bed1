// Package inspector exposes the data store to external read-only clients
// over a tiny line-oriented TCP protocol, announced on the network via
// mDNS so local tools can find it without a hardcoded port.
package inspector

/*------------------------------------------------------------------
 *
 * Purpose:	A read-only "LIST <category>" / "GET <category> <name>"
 *		TCP protocol over the store's existing mutex discipline,
 *		announced with github.com/brutella/dnssd exactly as the
 *		teacher's src/dns_sd.go announces its KISS-over-TCP port,
 *		pointed here at the inspector port instead.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/brutella/dnssd"

	"github.com/casiolink/cfxlink/internal/cfxlink"
)

// ServiceType is the DNS-SD service type cfxlinkd announces itself under.
const ServiceType = "_cfxlink-inspect._tcp"

var categoriesByName = map[string]cfxlink.VariableCategory{
	"VARIABLE":   cfxlink.CategoryVariable,
	"LIST":       cfxlink.CategoryList,
	"MATRIX":     cfxlink.CategoryMatrix,
	"PICTURE":    cfxlink.CategoryPicture,
	"SCREENSHOT": cfxlink.CategoryScreenshot,
}

// Server serves the store read-only over TCP.
type Server struct {
	store *cfxlink.Store
	ln    net.Listener
}

// Listen binds addr (e.g. ":7425") and returns a Server ready to Serve.
func Listen(addr string, store *cfxlink.Store) (*Server, error) {
	var ln, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("inspector: listen %s: %w", addr, err)
	}
	return &Server{store: store, ln: ln}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is done or the listener errors.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		var conn, err = s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("inspector: accept: %w", err)
			}
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	var scanner = bufio.NewScanner(conn)
	for scanner.Scan() {
		var reply = s.dispatch(scanner.Text())
		if _, err := fmt.Fprintln(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(line string) string {
	var fields = strings.Fields(line)
	if len(fields) == 0 {
		return "ERR empty command"
	}

	switch strings.ToUpper(fields[0]) {
	case "LIST":
		if len(fields) != 2 {
			return "ERR usage: LIST <category>"
		}
		var category, ok = categoriesByName[strings.ToUpper(fields[1])]
		if !ok {
			return "ERR unknown category " + fields[1]
		}
		var names = s.store.List(category)
		return "OK " + strings.Join(names, " ")

	case "GET":
		if len(fields) != 3 {
			return "ERR usage: GET <category> <name>"
		}
		var category, ok = categoriesByName[strings.ToUpper(fields[1])]
		if !ok {
			return "ERR unknown category " + fields[1]
		}
		var value, found = s.store.Get(cfxlink.VariableKey{Category: category, Name: fields[2]})
		if !found {
			return "ERR not found"
		}
		return "OK " + formatValue(value)

	default:
		return "ERR unknown command " + fields[0]
	}
}

func formatValue(v cfxlink.StoredValue) string {
	var parts = make([]string, 0, v.Value.RowSize*v.Value.ColSize)
	for r := 1; r <= v.Value.RowSize; r++ {
		for c := 1; c <= v.Value.ColSize; c++ {
			var cell = v.Value.Get(r, c)
			if v.Realness == cfxlink.Complex {
				parts = append(parts, strconv.FormatFloat(cell.Re, 'g', -1, 64)+"+"+strconv.FormatFloat(cell.Im, 'g', -1, 64)+"i")
			} else {
				parts = append(parts, strconv.FormatFloat(cell.Re, 'g', -1, 64))
			}
		}
	}
	return strings.Join(parts, ",")
}

// Announce advertises port on the local network as ServiceType, the way
// the teacher's dns_sd_announce advertises its KISS TCP port. It blocks,
// running the responder until ctx is cancelled or the responder fails.
func Announce(ctx context.Context, name string, port int) error {
	var cfg = dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
	}

	var sv, svErr = dnssd.NewService(cfg)
	if svErr != nil {
		return fmt.Errorf("inspector: create dnssd service: %w", svErr)
	}

	var rp, rpErr = dnssd.NewResponder()
	if rpErr != nil {
		return fmt.Errorf("inspector: create dnssd responder: %w", rpErr)
	}

	if _, err := rp.Add(sv); err != nil {
		return fmt.Errorf("inspector: add dnssd service: %w", err)
	}

	return rp.Respond(ctx)
}
