package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(strings.TrimSpace(string(body)))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

// call ejecuta el request y falla con el cuerpo del error si no es 2xx.
func (c *client) call(name, method, path string, payload any) error {
	var b []byte
	if payload != nil {
		var err error
		if b, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	status, body, err := c.do(method, path, b)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("%s fallo: status=%d body=%s", name, status, strings.TrimSpace(string(body)))
	}
	c.print(status, body)
	return nil
}

// withQuery agrega solo los parámetros no vacíos.
func withQuery(path string, kv ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			q.Set(kv[i], kv[i+1])
		}
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cl := &client{
		BaseURL:   envOr("BRIDGE_URL", "http://localhost:8080"),
		OutFormat: envOr("BRIDGE_OUT", "text"),
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}

	root := &cobra.Command{
		Use:           "bridgectl",
		Short:         "CLI para operar el bridge DataSov (vía /v1)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cl.OutFormat != "json" && cl.OutFormat != "text" {
				return fmt.Errorf("--out debe ser json|text")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cl.BaseURL, "url", cl.BaseURL, "URL base del bridge (env BRIDGE_URL)")
	root.PersistentFlags().StringVar(&cl.OutFormat, "out", cl.OutFormat, "Formato de salida: json|text")

	root.AddCommand(
		simpleGet(cl, "status", "Estado del orquestador y salud de los ledgers", "/v1/status"),
		simpleGet(cl, "state", "Snapshot de identidades y listings", "/v1/state"),
		simpleGet(cl, "jwks", "Claves públicas de firma de eventos", "/.well-known/jwks.json"),
		&cobra.Command{
			Use:   "sync",
			Short: "Dispara una reconciliación inmediata",
			RunE: func(cmd *cobra.Command, args []string) error {
				return cl.call("sync", http.MethodPost, "/v1/sync", struct{}{})
			},
		},
		reportsCmd(cl),
		eventsCmd(cl),
		proofCmd(cl),
		listingCmd(cl),
	)
	return root
}

func simpleGet(cl *client, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call(use, http.MethodGet, path, nil)
		},
	}
}

func reportsCmd(cl *client) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "reports",
		Short: "Últimos reportes de reconciliación",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("reports", http.MethodGet, withQuery("/v1/sync/reports", "limit", itoa(limit)), nil)
		},
	}
	c.Flags().IntVar(&limit, "limit", 0, "Cantidad máxima (0 = default del server)")
	return c
}

func eventsCmd(cl *client) *cobra.Command {
	var origin, typ, identity, since string
	var failed bool
	var limit int
	c := &cobra.Command{
		Use:   "events [eventId]",
		Short: "Historial de eventos cross-chain (o uno por id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return cl.call("events", http.MethodGet, "/v1/events/"+url.PathEscape(args[0]), nil)
			}
			if since != "" {
				if _, err := time.Parse(time.RFC3339, since); err != nil {
					return fmt.Errorf("--since debe ser RFC3339: %w", err)
				}
			}
			f := ""
			if failed {
				f = "true"
			}
			path := withQuery("/v1/events", "origin", origin, "type", typ, "identity", identity,
				"since", since, "failed", f, "limit", itoa(limit))
			return cl.call("events", http.MethodGet, path, nil)
		},
	}
	c.Flags().StringVar(&origin, "origin", "", "Cadena de origen (hyperledger|solana)")
	c.Flags().StringVar(&typ, "type", "", "Tipo de evento (ej. IDENTITY_VERIFIED)")
	c.Flags().StringVar(&identity, "identity", "", "Identity ID")
	c.Flags().StringVar(&since, "since", "", "Desde (RFC3339)")
	c.Flags().BoolVar(&failed, "failed", false, "Solo eventos con error")
	c.Flags().IntVar(&limit, "limit", 0, "Cantidad máxima")
	return c
}

func proofCmd(cl *client) *cobra.Command {
	proof := &cobra.Command{Use: "proof", Short: "Pruebas de identidad y de acceso"}

	var identityID string
	identity := &cobra.Command{
		Use:   "identity",
		Short: "Emite una prueba de identidad verificada",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identityID == "" {
				return fmt.Errorf("--identity es requerido")
			}
			return cl.call("proof identity", http.MethodPost, "/v1/proofs/identity",
				map[string]string{"identityId": identityID})
		},
	}
	identity.Flags().StringVar(&identityID, "identity", "", "Identity ID")

	var accID, consumer, dataType string
	access := &cobra.Command{
		Use:   "access",
		Short: "Emite una prueba de acceso a un tipo de dato",
		RunE: func(cmd *cobra.Command, args []string) error {
			if accID == "" || consumer == "" || dataType == "" {
				return fmt.Errorf("--identity, --consumer y --data-type son requeridos")
			}
			return cl.call("proof access", http.MethodPost, "/v1/proofs/access",
				map[string]string{"identityId": accID, "consumer": consumer, "dataType": dataType})
		},
	}
	access.Flags().StringVar(&accID, "identity", "", "Identity ID")
	access.Flags().StringVar(&consumer, "consumer", "", "Consumidor que pide acceso")
	access.Flags().StringVar(&dataType, "data-type", "", "Tipo de dato (ej. APP_USAGE)")

	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Valida una prueba de identidad (JSON desde --file o stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if !json.Valid(raw) {
				return fmt.Errorf("la prueba no es JSON válido")
			}
			return cl.call("proof validate", http.MethodPost, "/v1/proofs/identity/validate", json.RawMessage(raw))
		},
	}
	validate.Flags().StringVar(&file, "file", "", "Archivo con la prueba ('-' o vacío = stdin)")

	proof.AddCommand(identity, access, validate)
	return proof
}

func listingCmd(cl *client) *cobra.Command {
	listing := &cobra.Command{Use: "listing", Short: "Operaciones del marketplace"}

	var owner, identityID, dataType, description string
	var price uint64
	create := &cobra.Command{
		Use:   "create",
		Short: "Publica un listing de datos",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identityID == "" || dataType == "" {
				return fmt.Errorf("--identity y --data-type son requeridos")
			}
			return cl.call("listing create", http.MethodPost, "/v1/listings", map[string]any{
				"owner":           owner,
				"ownerIdentityId": identityID,
				"dataType":        dataType,
				"price":           price,
				"description":     description,
			})
		},
	}
	create.Flags().StringVar(&owner, "owner", "", "Cuenta dueña del listing")
	create.Flags().StringVar(&identityID, "identity", "", "Identity ID del dueño")
	create.Flags().StringVar(&dataType, "data-type", "", "Tipo de dato")
	create.Flags().Uint64Var(&price, "price", 0, "Precio en unidades mínimas")
	create.Flags().StringVar(&description, "description", "", "Descripción")

	var buyer, buyerID string
	purchase := &cobra.Command{
		Use:   "purchase <listingId>",
		Short: "Compra un listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if buyer == "" {
				return fmt.Errorf("--buyer es requerido")
			}
			return cl.call("listing purchase", http.MethodPost, "/v1/listings/"+url.PathEscape(args[0])+"/purchase",
				map[string]string{"buyer": buyer, "identityId": buyerID})
		},
	}
	purchase.Flags().StringVar(&buyer, "buyer", "", "Cuenta compradora")
	purchase.Flags().StringVar(&buyerID, "identity", "", "Identity ID del comprador (opcional)")

	var feeListing string
	var feeLimit int
	fees := &cobra.Command{
		Use:   "fees",
		Short: "Distribuciones de fees registradas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("listing fees", http.MethodGet,
				withQuery("/v1/fees", "listing", feeListing, "limit", itoa(feeLimit)), nil)
		},
	}
	fees.Flags().StringVar(&feeListing, "listing", "", "Filtrar por listing")
	fees.Flags().IntVar(&feeLimit, "limit", 0, "Cantidad máxima")

	var repOwner string
	var newPrice uint64
	reprice := &cobra.Command{
		Use:   "reprice <listingId>",
		Short: "Cambia el precio de un listing activo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repOwner == "" || newPrice == 0 {
				return fmt.Errorf("--owner y --price son requeridos")
			}
			return cl.call("listing reprice", http.MethodPut, "/v1/listings/"+url.PathEscape(args[0])+"/price",
				map[string]any{"owner": repOwner, "price": newPrice})
		},
	}
	reprice.Flags().StringVar(&repOwner, "owner", "", "Cuenta dueña del listing")
	reprice.Flags().Uint64Var(&newPrice, "price", 0, "Nuevo precio")

	var cancelOwner string
	cancel := &cobra.Command{
		Use:   "cancel <listingId>",
		Short: "Cancela un listing activo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cancelOwner == "" {
				return fmt.Errorf("--owner es requerido")
			}
			return cl.call("listing cancel", http.MethodPost, "/v1/listings/"+url.PathEscape(args[0])+"/cancel",
				map[string]string{"owner": cancelOwner})
		},
	}
	cancel.Flags().StringVar(&cancelOwner, "owner", "", "Cuenta dueña del listing")

	var authority string
	var amount uint64
	withdraw := &cobra.Command{
		Use:   "withdraw",
		Short: "Retira fees acumulados del marketplace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if authority == "" || amount == 0 {
				return fmt.Errorf("--authority y --amount son requeridos")
			}
			return cl.call("listing withdraw", http.MethodPost, "/v1/fees/withdraw",
				map[string]any{"authority": authority, "amount": amount})
		},
	}
	withdraw.Flags().StringVar(&authority, "authority", "", "Autoridad del marketplace")
	withdraw.Flags().Uint64Var(&amount, "amount", 0, "Monto a retirar")

	listing.AddCommand(create, purchase, fees, reprice, cancel, withdraw)
	return listing
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}

func itoa(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprint(n)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
