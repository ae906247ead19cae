package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tokengen/tokengen-bot/internal/config"
	"github.com/tokengen/tokengen-bot/internal/models"
	"github.com/tokengen/tokengen-bot/internal/pricing"
	"github.com/tokengen/tokengen-bot/internal/service"
	"github.com/tokengen/tokengen-bot/internal/session"
	"github.com/tokengen/tokengen-bot/internal/token"
)

const sweepInterval = 5 * time.Minute

type Bot struct {
	cfg         config.Config
	api         *tgbotapi.BotAPI
	log         *slog.Logger
	accounts    *service.AccountService
	entitlement *service.EntitlementService
	payments    *service.PaymentService
	sessions    *session.Manager
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, accounts *service.AccountService, entitlement *service.EntitlementService, payments *service.PaymentService, sessions *session.Manager) *Bot {
	return &Bot{
		cfg:         cfg,
		api:         api,
		log:         log,
		accounts:    accounts,
		entitlement: entitlement,
		payments:    payments,
		sessions:    sessions,
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("token bot started")

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			} else if update.PreCheckoutQuery != nil {
				b.answerPreCheckout(update.PreCheckoutQuery)
			}
		case <-sweep.C:
			if n := b.sessions.Sweep(); n > 0 {
				b.log.Info("evicted stale sessions", "count", n)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	userID := b.userID(msg)
	if b.sessions.AwaitingInput(userID) {
		if _, err := b.sessions.Apply(userID, session.Event{Type: session.EventTextInput, Text: strings.TrimSpace(msg.Text)}); err != nil {
			b.sendText(msg.Chat.ID, "That input wasn't expected right now. Use /gentoken to start over.")
			return
		}
		snap := b.sessions.Snapshot(userID)
		switch snap.Stage {
		case session.StageCustomizing:
			b.sendText(msg.Chat.ID, fmt.Sprintf("Prefix set to %q.", snap.Custom.Prefix))
			b.sendCustomMenu(msg.Chat.ID)
		case session.StageCollectingClaims:
			b.sendText(msg.Chat.ID, "Added to the JWT payload.")
			b.sendJWTMenu(msg.Chat.ID)
		}
		return
	}

	b.sendText(msg.Chat.ID, "Use /gentoken to generate a token.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := b.userID(msg)
	switch msg.Command() {
	case "start":
		account, _, err := b.ensureAccount(ctx, msg)
		if err != nil {
			b.log.Error("ensure account", "err", err)
			b.sendText(msg.Chat.ID, "Something went wrong, please try again.")
			return
		}
		b.sendWelcome(msg.Chat.ID, account.FirstName)
	case "help":
		b.sendHelp(msg.Chat.ID)
	case "gentoken":
		if _, _, err := b.ensureAccount(ctx, msg); err != nil {
			b.log.Error("ensure account", "err", err)
			return
		}
		if _, err := b.sessions.Apply(userID, session.Event{Type: session.EventStartFlow}); err != nil {
			b.log.Error("start flow", "err", err)
			return
		}
		b.sendKindMenu(msg.Chat.ID)
	case "mycredits":
		b.sendCredits(ctx, msg.Chat.ID, userID)
	case "buycredits":
		b.sendPackages(msg.Chat.ID)
	default:
		b.sendText(msg.Chat.ID, "Unknown command. Use /gentoken.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID
	userID := int64(cb.From.ID)
	b.ack(cb.ID, "")

	switch {
	case strings.HasPrefix(data, "token_"):
		b.handleKindSelection(ctx, chatID, userID, strings.TrimPrefix(data, "token_"))
	case strings.HasPrefix(data, "custom_"):
		b.handleCustomCallback(ctx, chatID, userID, strings.TrimPrefix(data, "custom_"))
	case strings.HasPrefix(data, "jwt_"):
		b.handleJWTCallback(ctx, chatID, userID, strings.TrimPrefix(data, "jwt_"))
	case strings.HasPrefix(data, "buy_"):
		b.handleBuyCallback(chatID, strings.TrimPrefix(data, "buy_"))
	case strings.HasPrefix(data, "menu_"):
		b.handleMenuCallback(ctx, chatID, userID, strings.TrimPrefix(data, "menu_"))
	default:
		b.sendText(chatID, "Unknown choice.")
	}
}

var callbackKinds = map[string]models.TokenKind{
	"api":    models.KindAPIKey,
	"jwt":    models.KindJWT,
	"uuid":   models.KindUUID,
	"custom": models.KindCustom,
	"bulk":   models.KindBulk,
}

func (b *Bot) handleKindSelection(ctx context.Context, chatID, userID int64, key string) {
	kind, ok := callbackKinds[key]
	if !ok {
		b.sendText(chatID, "Invalid token type selected.")
		return
	}
	out, err := b.sessions.Apply(userID, session.Event{Type: session.EventSelectKind, Kind: kind})
	if err != nil {
		b.sendText(chatID, "Start with /gentoken to choose a token type.")
		return
	}
	switch {
	case out.Generate:
		b.issue(ctx, chatID, userID, out.Kind, out.Params)
	case kind == models.KindCustom:
		b.sendCustomMenu(chatID)
	case kind == models.KindJWT:
		b.sendJWTMenu(chatID)
	}
}

func (b *Bot) handleCustomCallback(ctx context.Context, chatID, userID int64, action string) {
	var ev session.Event
	var confirm string
	switch action {
	case "len_32":
		ev = session.Event{Type: session.EventSetLength, Length: 32}
		confirm = "Length set to 32 characters."
	case "len_64":
		ev = session.Event{Type: session.EventSetLength, Length: 64}
		confirm = "Length set to 64 characters."
	case "chars_ld":
		ev = session.Event{Type: session.EventSetCharset, IncludeSpecial: false}
		confirm = "Character set: letters and digits."
	case "chars_all":
		ev = session.Event{Type: session.EventSetCharset, IncludeSpecial: true}
		confirm = "Character set: letters, digits and special characters."
	case "prefix":
		ev = session.Event{Type: session.EventRequestPrefix}
	case "generate":
		ev = session.Event{Type: session.EventGenerate}
	default:
		b.sendText(chatID, "Unknown option.")
		return
	}

	out, err := b.sessions.Apply(userID, ev)
	if err != nil {
		b.sendText(chatID, "Start with /gentoken to configure a custom token.")
		return
	}
	switch {
	case out.Generate:
		b.issue(ctx, chatID, userID, out.Kind, out.Params)
	case out.AwaitInput:
		b.sendText(chatID, "Send me the prefix (e.g. 'sk', 'pk', 'live'):")
	default:
		b.sendText(chatID, confirm)
	}
}

var claimPrompts = map[string]string{
	session.ClaimUserID: "Enter user_id value:",
	session.ClaimEmail:  "Enter email value:",
	session.ClaimRole:   "Enter role value:",
	session.ClaimExpiry: "Enter expiry in hours (1-720):",
}

func (b *Bot) handleJWTCallback(ctx context.Context, chatID, userID int64, action string) {
	if action == "generate" {
		out, err := b.sessions.Apply(userID, session.Event{Type: session.EventGenerate})
		if err != nil {
			b.sendText(chatID, "Start with /gentoken to configure a JWT.")
			return
		}
		b.issue(ctx, chatID, userID, out.Kind, out.Params)
		return
	}
	if action == "user" {
		action = session.ClaimUserID
	}
	prompt, ok := claimPrompts[action]
	if !ok {
		b.sendText(chatID, "Unknown option.")
		return
	}
	if _, err := b.sessions.Apply(userID, session.Event{Type: session.EventRequestClaim, ClaimKey: action}); err != nil {
		b.sendText(chatID, "Start with /gentoken to configure a JWT.")
		return
	}
	b.sendText(chatID, prompt)
}

func (b *Bot) handleBuyCallback(chatID int64, starsStr string) {
	stars, err := strconv.Atoi(starsStr)
	if err != nil || stars <= 0 {
		b.sendText(chatID, "Unknown package.")
		return
	}
	credits := pricing.CreditsForStars(stars)

	invoice := tgbotapi.NewInvoice(chatID,
		fmt.Sprintf("TokenGen - %d credits", credits),
		fmt.Sprintf("Purchase %d credits for %d Telegram Stars", credits, stars),
		fmt.Sprintf("credits_%d", credits),
		"", // Telegram Stars need no provider token
		"topup",
		"XTR",
		[]tgbotapi.LabeledPrice{{Label: fmt.Sprintf("%d credits", credits), Amount: stars}},
	)
	if _, err := b.api.Send(invoice); err != nil {
		b.log.Error("send invoice", "err", err)
		b.sendText(chatID, "Could not create the payment invoice, please try again later.")
	}
}

func (b *Bot) handleMenuCallback(ctx context.Context, chatID, userID int64, menu string) {
	switch menu {
	case "gentoken":
		if _, err := b.sessions.Apply(userID, session.Event{Type: session.EventStartFlow}); err != nil {
			return
		}
		b.sendKindMenu(chatID)
	case "buy":
		b.sendPackages(chatID)
	case "help":
		b.sendHelp(chatID)
	case "credits":
		b.sendCredits(ctx, chatID, userID)
	case "main":
		b.sendWelcome(chatID, "")
	}
}

func (b *Bot) answerPreCheckout(query *tgbotapi.PreCheckoutQuery) {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if _, err := b.api.Request(response); err != nil {
		b.log.Error("answer pre-checkout", "err", err)
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	payment := msg.SuccessfulPayment
	userID := b.userID(msg)

	result, err := b.payments.Reconcile(ctx, userID, payment.TelegramPaymentChargeID, payment.TotalAmount)
	if err != nil {
		b.log.Error("reconcile payment", "err", err, "txn", payment.TelegramPaymentChargeID)
		b.sendText(msg.Chat.ID, "Payment received but crediting failed. It will be retried; contact support with your transaction id if credits do not appear.")
		return
	}
	if result.Duplicate {
		b.log.Info("duplicate payment delivery", "txn", payment.TelegramPaymentChargeID)
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf(
		"Payment successful!\n\nStars received: %d\nCredits added: %d\nYour balance: %d\n\nUse /gentoken to generate tokens.",
		payment.TotalAmount, result.CreditsGranted, result.NewBalance,
	))
}

func (b *Bot) issue(ctx context.Context, chatID, userID int64, kind models.TokenKind, params service.IssueParams) {
	issued, err := b.entitlement.TryIssue(ctx, userID, kind, params)
	if err != nil {
		b.reportIssueError(chatID, err)
		return
	}
	if issued.AuditErr != nil {
		b.log.Error("audit record failed", "err", issued.AuditErr, "user", userID)
	}
	b.deliverToken(chatID, issued)
}

func (b *Bot) reportIssueError(chatID int64, err error) {
	var insufficient *service.InsufficientCreditsError
	var invalid *token.ValidationError
	switch {
	case errors.As(err, &insufficient):
		b.sendText(chatID, fmt.Sprintf(
			"Insufficient credits!\n\nYou need %d credits for this token and have %d.\n\nUse /buycredits to top up; the free daily quota covers basic tokens.",
			insufficient.Cost, insufficient.Balance,
		))
	case errors.As(err, &invalid):
		b.sendText(chatID, fmt.Sprintf("Invalid parameters: %s. Use /gentoken to start over.", invalid.Error()))
	case errors.Is(err, service.ErrGenerationFailed):
		b.log.Error("generation failed after funding", "err", err)
		b.sendText(chatID, "Token generation failed. Nothing was charged - please try again.")
	case errors.Is(err, service.ErrStoreUnavailable):
		b.log.Error("store unavailable", "err", err)
		b.sendText(chatID, "The service is temporarily unavailable. Please try again in a moment.")
	default:
		b.log.Error("issue token", "err", err)
		b.sendText(chatID, "Something went wrong, please try again.")
	}
}

func (b *Bot) deliverToken(chatID int64, issued *service.IssuedToken) {
	var body string
	if issued.Kind == models.KindBulk {
		lines := strings.Split(issued.Value, "\n")
		escaped := make([]string, 0, len(lines))
		for _, l := range lines {
			escaped = append(escaped, "<code>"+html.EscapeString(l)+"</code>")
		}
		body = strings.Join(escaped, "\n")
	} else {
		body = "<code>" + html.EscapeString(issued.Value) + "</code>"
	}

	text := fmt.Sprintf(
		"<b>Token generated!</b>\n\n<b>Type:</b> %s\n<b>Funding:</b> %s\n\n%s\n\nFor educational and personal use only. Store it securely and regenerate if compromised.\n\nNeed another? /gentoken",
		html.EscapeString(strings.ToUpper(string(issued.Kind))),
		html.EscapeString(issued.FundingNote),
		body,
	)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send token", "err", err)
	}
}

func (b *Bot) sendWelcome(chatID int64, firstName string) {
	greeting := "Welcome to TokenGen Bot!"
	if firstName != "" {
		greeting = fmt.Sprintf("Hi %s, welcome to TokenGen Bot!", firstName)
	}
	text := greeting + `

I generate sample security tokens for learning and personal projects: API keys, JWTs, UUIDs, custom formats and bulk batches.

Commands:
/gentoken - generate a token
/mycredits - check your balance
/buycredits - buy credits
/help - how it works

Pricing: API key 5, JWT 10, UUID 3, custom 8, bulk 20 credits.
Free tier: ` + strconv.Itoa(pricing.FreeDailyLimit) + ` basic tokens per day.`

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Generate token", "menu_gentoken")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Buy credits", "menu_buy")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Help", "menu_help")),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send welcome", "err", err)
	}
}

func (b *Bot) sendHelp(chatID int64) {
	b.sendText(chatID, `TokenGen Bot help

1. You need credits to generate tokens.
2. Basic tokens come out of a small free daily quota; the rest cost credits.
3. Pick a token type with /gentoken and follow the prompts.

Token types:
- API key: random key, letters/digits/underscore/dash
- JWT: signed sample token with your claims
- UUID: v4 (random) or v1 (time-based)
- Custom: your length, charset and prefix
- Bulk: ten API keys at once

Everything generated here is for learning and testing only - never use it in production without a proper security review.`)
}

func (b *Bot) sendCredits(ctx context.Context, chatID, userID int64) {
	summary, err := b.accounts.Summary(ctx, userID)
	if err != nil {
		b.log.Error("account summary", "err", err)
		b.sendText(chatID, "Could not load your account, please try again.")
		return
	}
	text := fmt.Sprintf(
		"Your account\n\nCredits: %d\nFree tokens today: %d of %d\nTotal generated: %d\n\nCosts: API key 5, JWT 10, UUID 3, custom 8, bulk 20.",
		summary.Balance, summary.FreeTokensLeftToday, pricing.FreeDailyLimit, summary.TotalGenerated,
	)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Generate token", "menu_gentoken")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Buy credits", "menu_buy")),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send credits", "err", err)
	}
}

func (b *Bot) sendKindMenu(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, `Choose a token type:

API key - standard key format (5 credits)
JWT - signed sample token (10 credits)
UUID - unique identifier (3 credits)
Custom - configure your own format (8 credits)
Bulk - ten API keys at once (20 credits)`)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("API key (5)", "token_api")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("JWT (10)", "token_jwt")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("UUID (3)", "token_uuid")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Custom (8)", "token_custom")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Bulk (20)", "token_bulk")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("My credits", "menu_credits")),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send kind menu", "err", err)
	}
}

func (b *Bot) sendCustomMenu(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, `Custom token settings:

- Length: 32 or 64 characters
- Charset: letters+digits, or include special characters
- Optional prefix (like 'sk' or 'pk')

Press Generate when ready.`)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("32 chars", "custom_len_32"),
			tgbotapi.NewInlineKeyboardButtonData("64 chars", "custom_len_64"),
		),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Letters+digits", "custom_chars_ld")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Include special", "custom_chars_all")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Add prefix", "custom_prefix")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Generate now", "custom_generate")),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send custom menu", "err", err)
	}
}

func (b *Bot) sendJWTMenu(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, `JWT configuration:

Add claims to your token, then press Generate.
- user_id, email, role - free-text values
- expiry - hours until the token expires (1-720)`)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Add user_id", "jwt_user")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Add email", "jwt_email")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Add role", "jwt_role")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Custom expiry", "jwt_expiry")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Generate now", "jwt_generate")),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send jwt menu", "err", err)
	}
}

func (b *Bot) sendPackages(chatID int64) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(pricing.Packages())+1)
	for _, p := range pricing.Packages() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%d credits (%d Stars)", p.Credits, p.Stars),
				fmt.Sprintf("buy_%d", p.Stars),
			),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Back to menu", "menu_main")))

	msg := tgbotapi.NewMessage(chatID, `Buy credits

Choose a package; payment is with Telegram Stars:

100 credits - 50 Stars
250 credits - 100 Stars
750 credits - 250 Stars
2000 credits - 500 Stars`)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send packages", "err", err)
	}
}

func (b *Bot) ensureAccount(ctx context.Context, msg *tgbotapi.Message) (*models.Account, bool, error) {
	username := ""
	firstName := ""
	if msg.From != nil {
		username = msg.From.UserName
		firstName = msg.From.FirstName
	}
	return b.accounts.Ensure(ctx, b.userID(msg), username, firstName)
}

func (b *Bot) userID(msg *tgbotapi.Message) int64 {
	if msg.From != nil {
		return int64(msg.From.ID)
	}
	return msg.Chat.ID
}

func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}
