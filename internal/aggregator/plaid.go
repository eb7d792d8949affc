package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"
)

// rejectedCodes are item/credential errors that retrying cannot fix.
var rejectedCodes = map[string]bool{
	"ITEM_LOGIN_REQUIRED":     true,
	"INVALID_ACCESS_TOKEN":    true,
	"INVALID_CREDENTIALS":     true,
	"ACCESS_NOT_GRANTED":      true,
	"ITEM_LOCKED":             true,
	"ITEM_NOT_FOUND":          true,
	"USER_PERMISSION_REVOKED": true,
	"INVALID_API_KEYS":        true,
}

// PlaidClient calls the Plaid API through the official SDK.
type PlaidClient struct {
	api *plaid.PlaidApiService
}

// NewPlaidClient builds a client; an empty baseURL selects production.
func NewPlaidClient(baseURL, clientID, secret string, timeout time.Duration) *PlaidClient {
	env := plaid.Production
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		env = plaid.Environment(baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg := plaid.NewConfiguration()
	cfg.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	cfg.AddDefaultHeader("PLAID-SECRET", secret)
	cfg.UseEnvironment(env)
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &PlaidClient{api: plaid.NewAPIClient(cfg).PlaidApi}
}

func (c *PlaidClient) TransactionsSync(ctx context.Context, req SyncRequest) (SyncPage, error) {
	body := plaid.NewTransactionsSyncRequest(req.AccessToken)
	if req.Cursor != "" {
		body.SetCursor(req.Cursor)
	}
	if req.Count > 0 {
		body.SetCount(int32(req.Count))
	}
	resp, httpResp, err := c.api.TransactionsSync(ctx).TransactionsSyncRequest(*body).Execute()
	if err != nil {
		return SyncPage{}, plaidFailure("/transactions/sync", httpResp, err)
	}

	page := SyncPage{NextCursor: resp.GetNextCursor(), HasMore: resp.GetHasMore()}
	for _, t := range resp.GetAdded() {
		page.Added = append(page.Added, fromPlaidTransaction(t))
	}
	for _, t := range resp.GetModified() {
		page.Modified = append(page.Modified, fromPlaidTransaction(t))
	}
	for _, r := range resp.GetRemoved() {
		page.Removed = append(page.Removed, RemovedTransaction{TransactionID: r.GetTransactionId()})
	}
	return page, nil
}

func (c *PlaidClient) Accounts(ctx context.Context, accessToken string) ([]Account, error) {
	resp, httpResp, err := c.api.AccountsGet(ctx).
		AccountsGetRequest(*plaid.NewAccountsGetRequest(accessToken)).
		Execute()
	if err != nil {
		return nil, plaidFailure("/accounts/get", httpResp, err)
	}
	return fromPlaidAccounts(resp.GetAccounts()), nil
}

func (c *PlaidClient) Balances(ctx context.Context, accessToken string) ([]Account, error) {
	resp, httpResp, err := c.api.AccountsBalanceGet(ctx).
		AccountsBalanceGetRequest(*plaid.NewAccountsBalanceGetRequest(accessToken)).
		Execute()
	if err != nil {
		return nil, plaidFailure("/accounts/balance/get", httpResp, err)
	}
	return fromPlaidAccounts(resp.GetAccounts()), nil
}

func fromPlaidTransaction(t plaid.Transaction) Transaction {
	out := Transaction{
		TransactionID: t.GetTransactionId(),
		AccountID:     t.GetAccountId(),
		Date:          t.GetDate(),
		Amount:        decimal.NewFromFloat(t.GetAmount()),
		Name:          t.GetName(),
	}
	if v, ok := t.GetAuthorizedDateOk(); ok && v != nil {
		out.AuthorizedDate = v
	}
	if v, ok := t.GetMerchantNameOk(); ok && v != nil {
		out.MerchantName = v
	}
	if ch := t.GetPaymentChannel(); ch != "" {
		out.PaymentChannel = &ch
	}
	if pfc, ok := t.GetPersonalFinanceCategoryOk(); ok && pfc != nil && pfc.GetPrimary() != "" {
		c := pfc.GetPrimary()
		out.Category = &c
	} else if cats := t.GetCategory(); len(cats) > 0 {
		c := strings.Join(cats, " > ")
		out.Category = &c
	}
	return out
}

func fromPlaidAccounts(in []plaid.AccountBase) []Account {
	out := make([]Account, 0, len(in))
	for _, a := range in {
		out = append(out, fromPlaidAccount(a))
	}
	return out
}

func fromPlaidAccount(a plaid.AccountBase) Account {
	out := Account{
		AccountID: a.GetAccountId(),
		Name:      a.GetName(),
		Type:      string(a.GetType()),
	}
	if v, ok := a.GetSubtypeOk(); ok && v != nil {
		s := string(*v)
		out.Subtype = &s
	}
	if v, ok := a.GetMaskOk(); ok && v != nil {
		out.Mask = v
	}
	b := a.GetBalances()
	if v, ok := b.GetCurrentOk(); ok && v != nil {
		out.Balances.Current = decimal.NewNullDecimal(decimal.NewFromFloat(*v))
	}
	if v, ok := b.GetAvailableOk(); ok && v != nil {
		out.Balances.Available = decimal.NewNullDecimal(decimal.NewFromFloat(*v))
	}
	if v, ok := b.GetIsoCurrencyCodeOk(); ok && v != nil {
		out.Balances.ISOCurrencyCode = v
	}
	return out
}

// plaidFailure maps an SDK call failure onto *Error. Calls that never got
// an HTTP response are always retryable.
func plaidFailure(op string, resp *http.Response, err error) *Error {
	if resp == nil {
		return Unavailable(fmt.Errorf("%s: %w", op, err))
	}
	var pe *plaid.PlaidError
	if decoded, derr := plaid.ToPlaidError(err); derr == nil {
		pe = &decoded
	}
	e := classify(resp.StatusCode, pe)
	e.Err = fmt.Errorf("%s: %w", op, err)
	return e
}

// classify picks the error kind from the HTTP status and Plaid's error body, if any.
func classify(status int, pe *plaid.PlaidError) *Error {
	e := &Error{Kind: KindUnavailable, StatusCode: status}
	if pe != nil {
		e.Type = string(pe.GetErrorType())
		e.Code = pe.GetErrorCode()
		e.Message = pe.GetErrorMessage()
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if rejectedCodes[e.Code] || status == http.StatusUnauthorized || status == http.StatusForbidden {
		e.Kind = KindRejected
	}
	return e
}
