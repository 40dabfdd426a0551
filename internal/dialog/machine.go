// Package dialog is the conversational state machine: it maps inbound
// text and button gestures to domain operations and computes the next
// session state and the next render. It owns no transport concerns.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/payments"
	"amnezia-bot/internal/promo"
	"amnezia-bot/internal/provisioning"
	"amnezia-bot/internal/roster"
	"amnezia-bot/internal/session"
	"amnezia-bot/internal/subscription"
)

// Archiver produces a backup archive of the data directory.
type Archiver interface {
	Create() (string, error)
}

// Reporter produces an accounts overview file for admins.
type Reporter interface {
	AccountsOverview(ctx context.Context) (string, error)
}

// tagRoles guards free-text captures the same way actionRoles guards
// buttons: a role downgrade mid-conversation invalidates the capture.
var tagRoles = map[string]roster.Role{
	awaitAddUsername:    roster.RoleModerator,
	awaitDeleteUsername: roster.RoleAdmin,
	awaitRenewUsername:  roster.RoleAdmin,
	awaitRenewValue:     roster.RoleAdmin,
	awaitAdminID:        roster.RoleAdmin,
	awaitRemoveAdminID:  roster.RoleAdmin,
	awaitModeratorID:    roster.RoleAdmin,
	awaitRemoveModID:    roster.RoleAdmin,
	awaitPromoDef:       roster.RoleAdmin,
	awaitPromoDelete:    roster.RoleAdmin,
	awaitPromoCode:      roster.RoleUser,
	awaitPrice:          roster.RoleAdmin,
}

type Machine struct {
	sessions  session.Store
	roster    *roster.Roster
	ledger    *subscription.Ledger
	promos    *promo.Engine
	payments  *payments.Ledger
	pricing   *payments.Pricing
	prov      provisioning.Provisioner
	backup    Archiver
	reports   Reporter
	log       *slog.Logger
	opTimeout time.Duration
}

type Deps struct {
	Sessions session.Store
	Roster   *roster.Roster
	Ledger   *subscription.Ledger
	Promos   *promo.Engine
	Payments *payments.Ledger
	Pricing  *payments.Pricing
	Prov     provisioning.Provisioner
	Backup   Archiver
	Reports  Reporter
	Log      *slog.Logger
}

func NewMachine(d Deps) *Machine {
	return &Machine{
		sessions:  d.Sessions,
		roster:    d.Roster,
		ledger:    d.Ledger,
		promos:    d.Promos,
		payments:  d.Payments,
		pricing:   d.Pricing,
		prov:      d.Prov,
		backup:    d.Backup,
		reports:   d.Reports,
		log:       d.Log,
		opTimeout: 30 * time.Second,
	}
}

// HandleText processes a free-text message. An idle session treats any
// text as unrecognized and re-shows the menu; an awaiting session
// validates the text against the pending tag's grammar.
func (m *Machine) HandleText(ctx context.Context, userID int64, input string) Render {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	s, err := m.sessions.Get(ctx, userID)
	if err != nil {
		m.log.Error("failed to load session", "user_id", userID, "err", err)
		return menu(domain.UserMessage(err))
	}
	if s.Awaiting == "" {
		return anchored(&s, menu("Выберите действие в меню."))
	}

	role, err := m.roster.RoleOf(userID)
	if err != nil {
		m.log.Error("failed to resolve role", "user_id", userID, "err", err)
		return menu(domain.UserMessage(err))
	}
	if required, ok := tagRoles[s.Awaiting]; !ok || role < required {
		return m.resetToIdle(ctx, userID, "Недостаточно прав для этого действия.")
	}

	render, err := m.dispatchText(ctx, &s, strings.TrimSpace(input))
	if err != nil {
		// Bad input re-prompts with the session untouched; any other
		// domain failure resets the conversation to idle.
		if domain.IsValidation(err) {
			return text(domain.UserMessage(err))
		}
		m.log.Warn("text dispatch failed",
			"user_id", userID, "awaiting", s.Awaiting, "err", err)
		return m.resetToIdle(ctx, userID, domain.UserMessage(err))
	}

	if err := m.sessions.Put(ctx, s); err != nil {
		m.log.Error("failed to store session", "user_id", userID, "err", err)
	}
	return anchored(&s, render)
}

func (m *Machine) dispatchText(ctx context.Context, s *session.Session, input string) (Render, error) {
	switch s.Awaiting {
	case awaitAddUsername:
		return m.addAccount(ctx, s, input)
	case awaitDeleteUsername:
		return m.deleteAccount(ctx, s, input)
	case awaitRenewUsername:
		return m.pickRenewTarget(ctx, s, input)
	case awaitRenewValue:
		return m.renewByDate(s, input)
	case awaitAdminID:
		return m.rosterEdit(s, input, m.roster.AddAdmin, "Администратор %d добавлен.")
	case awaitRemoveAdminID:
		return m.rosterEdit(s, input, m.roster.RemoveAdmin, "Администратор %d удалён.")
	case awaitModeratorID:
		return m.rosterEdit(s, input, m.roster.AddModerator, "Модератор %d добавлен.")
	case awaitRemoveModID:
		return m.rosterEdit(s, input, m.roster.RemoveModerator, "Модератор %d удалён.")
	case awaitPromoDef:
		return m.createPromo(s, input)
	case awaitPromoDelete:
		return m.deletePromo(s, input)
	case awaitPromoCode:
		return m.redeemPromo(ctx, s, input)
	case awaitPrice:
		return m.setPrice(s, input)
	}
	s.Awaiting = ""
	return menu("Выберите действие в меню."), nil
}

func (m *Machine) addAccount(ctx context.Context, s *session.Session, input string) (Render, error) {
	username, err := parseUsername(input)
	if err != nil {
		return Render{}, err
	}
	cred, err := m.prov.Provision(ctx, username)
	if err != nil {
		return Render{}, err
	}
	s.Awaiting = ""
	return Render{
		Text:       fmt.Sprintf("Аккаунт %s создан без ограничения срока.", username),
		Menu:       MenuMain,
		Credential: cred,
	}, nil
}

func (m *Machine) deleteAccount(ctx context.Context, s *session.Session, input string) (Render, error) {
	username, err := parseUsername(input)
	if err != nil {
		return Render{}, err
	}
	exists, err := m.ledger.Exists(ctx, username)
	if err != nil {
		return Render{}, err
	}
	if !exists {
		return Render{}, domain.NotFound("Аккаунт %s не найден.", username)
	}
	if err := m.ledger.Remove(ctx, username); err != nil {
		return Render{}, err
	}
	s.Awaiting = ""
	return menu(fmt.Sprintf("Аккаунт %s удалён.", username)), nil
}

func (m *Machine) pickRenewTarget(ctx context.Context, s *session.Session, input string) (Render, error) {
	username, err := parseUsername(input)
	if err != nil {
		return Render{}, err
	}
	exists, err := m.ledger.Exists(ctx, username)
	if err != nil {
		return Render{}, err
	}
	if !exists {
		return Render{}, domain.NotFound("Аккаунт %s не найден.", username)
	}
	s.Set(ctxRenewalTarget, username)
	s.Awaiting = awaitRenewValue
	return periodMenu(
		fmt.Sprintf("Выберите период для %s или отправьте дату в формате ДД-ММ-ГГГГ.", username),
		ActionRenewPeriod), nil
}

func (m *Machine) renewByDate(s *session.Session, input string) (Render, error) {
	date, err := parseDate(input)
	if err != nil {
		return Render{}, err
	}
	target := s.Value(ctxRenewalTarget)
	if target == "" {
		return Render{}, domain.Conflict("Сначала выберите аккаунт для продления.")
	}
	if err := m.ledger.SetExpiration(target, &date); err != nil {
		return Render{}, err
	}
	s.Awaiting = ""
	delete(s.Context, ctxRenewalTarget)
	return menu(fmt.Sprintf("Аккаунт %s продлён до %s.", target, date.Format(dateLayout))), nil
}

func (m *Machine) rosterEdit(s *session.Session, input string, op func(int64) error, confirm string) (Render, error) {
	id, err := parseTelegramID(input)
	if err != nil {
		return Render{}, err
	}
	if err := op(id); err != nil {
		return Render{}, err
	}
	s.Awaiting = ""
	return menu(fmt.Sprintf(confirm, id)), nil
}

func (m *Machine) createPromo(s *session.Session, input string) (Render, error) {
	def, err := promo.ParseDefinition(input)
	if err != nil {
		return Render{}, err
	}
	if err := m.promos.Create(def); err != nil {
		return Render{}, err
	}
	s.Awaiting = ""
	return menu(fmt.Sprintf("Промокод %s создан.", def.Code)), nil
}

func (m *Machine) deletePromo(s *session.Session, input string) (Render, error) {
	if err := m.promos.Delete(input); err != nil {
		return Render{}, err
	}
	s.Awaiting = ""
	return menu(fmt.Sprintf("Промокод %s удалён.", input)), nil
}

// redeemPromo either issues a free account (grant codes) or attaches
// the discount to the purchase session for the next intent.
func (m *Machine) redeemPromo(ctx context.Context, s *session.Session, input string) (Render, error) {
	red, err := m.promos.Redeem(input)
	if err != nil {
		return Render{}, err
	}
	s.Awaiting = ""

	if red.GrantsPeriod != "" {
		username, cred, err := m.ledger.Issue(ctx, s.UserID, red.GrantsPeriod)
		if err != nil {
			// Issuing failed after the use was already counted; give the
			// use back so the redeemer can retry with the same code.
			if rerr := m.promos.Refund(red.Code); rerr != nil {
				m.log.Error("failed to refund promo use",
					"code", red.Code, "user_id", s.UserID, "err", rerr)
			}
			return Render{}, err
		}
		return Render{
			Text: fmt.Sprintf("Промокод %s активирован: аккаунт %s на %s.",
				red.Code, username, red.GrantsPeriod.Title()),
			Menu:       MenuMain,
			Credential: cred,
		}, nil
	}

	s.Set(ctxPromoDiscount, strconv.FormatFloat(red.DiscountPercent, 'f', -1, 64))
	return menu(fmt.Sprintf("Промокод %s активирован: скидка %.0f%% на следующую покупку.",
		red.Code, red.DiscountPercent)), nil
}

func (m *Machine) setPrice(s *session.Session, input string) (Render, error) {
	price, err := parsePrice(input)
	if err != nil {
		return Render{}, err
	}
	period, err := subscription.ParsePeriod(s.Value(ctxPricePeriod))
	if err != nil {
		return Render{}, domain.Conflict("Сначала выберите период.")
	}
	if err := m.pricing.SetPrice(period, price); err != nil {
		return Render{}, err
	}
	s.Awaiting = ""
	delete(s.Context, ctxPricePeriod)
	return menu(fmt.Sprintf("Цена за %s установлена: %.2f ₽.", period.Title(), price)), nil
}

// HandleAction processes a named button gesture. Authorization precedes
// dispatch; an unauthorized action is rejected without any state change.
func (m *Machine) HandleAction(ctx context.Context, userID int64, action Action, arg string) Render {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	required, ok := actionRoles[action]
	if !ok {
		return menu("Неизвестное действие.")
	}
	role, err := m.roster.RoleOf(userID)
	if err != nil {
		m.log.Error("failed to resolve role", "user_id", userID, "err", err)
		return menu(domain.UserMessage(err))
	}
	if role < required {
		return text("Недостаточно прав для этого действия.")
	}

	s, err := m.sessions.Get(ctx, userID)
	if err != nil {
		m.log.Error("failed to load session", "user_id", userID, "err", err)
		return menu(domain.UserMessage(err))
	}

	render, err := m.dispatchAction(ctx, &s, action, arg)
	if err != nil {
		m.log.Warn("action dispatch failed",
			"user_id", userID, "action", string(action), "err", err)
		return m.resetToIdle(ctx, userID, domain.UserMessage(err))
	}

	if err := m.sessions.Put(ctx, s); err != nil {
		m.log.Error("failed to store session", "user_id", userID, "err", err)
	}
	return anchored(&s, render)
}

func (m *Machine) dispatchAction(ctx context.Context, s *session.Session, action Action, arg string) (Render, error) {
	switch action {
	case ActionMenu:
		s.Awaiting = ""
		return menu("Главное меню."), nil
	case ActionHelp:
		return menu(helpText), nil

	case ActionMyAccounts:
		return m.myAccounts(ctx, s.UserID)
	case ActionBuy:
		return m.showPrices()
	case ActionBuyPeriod:
		return m.buyPeriod(ctx, s, arg)
	case ActionCheckPayment:
		return m.checkPayment(ctx, s)
	case ActionRedeemPromo:
		s.Awaiting = awaitPromoCode
		return text("Отправьте промокод."), nil

	case ActionListAccounts:
		return m.listAccounts(ctx)
	case ActionActivePeers:
		return m.activePeers(ctx)
	case ActionAddAccount:
		s.Awaiting = awaitAddUsername
		return text("Отправьте имя нового аккаунта (буквы, цифры, _ и -)."), nil
	case ActionDeleteAccount:
		s.Awaiting = awaitDeleteUsername
		return text("Отправьте имя аккаунта для удаления."), nil
	case ActionRenewAccount:
		s.Awaiting = awaitRenewUsername
		return text("Отправьте имя аккаунта для продления."), nil
	case ActionRenewPeriod:
		return m.renewByPeriod(s, arg)

	case ActionAddAdmin:
		s.Awaiting = awaitAdminID
		return text("Отправьте Telegram ID нового администратора."), nil
	case ActionRemoveAdmin:
		s.Awaiting = awaitRemoveAdminID
		return text("Отправьте Telegram ID администратора для удаления."), nil
	case ActionAddModerator:
		s.Awaiting = awaitModeratorID
		return text("Отправьте Telegram ID нового модератора."), nil
	case ActionRemoveModerator:
		s.Awaiting = awaitRemoveModID
		return text("Отправьте Telegram ID модератора для удаления."), nil

	case ActionCreatePromo:
		s.Awaiting = awaitPromoDef
		return text("Отправьте описание промокода: код, скидка %, срок в днях (или -), число использований (или -), период (или -).\nНапример: SAVE10 10 30 100 -"), nil
	case ActionDeletePromo:
		s.Awaiting = awaitPromoDelete
		return text("Отправьте код промокода для удаления."), nil
	case ActionListPromos:
		return m.listPromos()

	case ActionSetPrice:
		return periodMenu("Выберите период для изменения цены.", ActionSetPricePeriod), nil
	case ActionSetPricePeriod:
		return m.pickPricePeriod(s, arg)
	case ActionBackup:
		return m.makeBackup()
	case ActionReport:
		return m.makeReport(ctx)
	}
	return menu("Неизвестное действие."), nil
}

func (m *Machine) myAccounts(ctx context.Context, userID int64) (Render, error) {
	infos, err := m.ledger.Overview(ctx)
	if err != nil {
		return Render{}, err
	}
	var b strings.Builder
	for _, info := range infos {
		if info.Owner == nil || *info.Owner != userID {
			continue
		}
		fmt.Fprintf(&b, "%s — %s\n", info.Username, formatExpiration(info.Expiration))
	}
	if b.Len() == 0 {
		return menu("У вас пока нет аккаунтов."), nil
	}
	return menu("Ваши аккаунты:\n" + b.String()), nil
}

func (m *Machine) showPrices() (Render, error) {
	priced, err := m.pricing.All()
	if err != nil {
		return Render{}, err
	}
	var b strings.Builder
	b.WriteString("Выберите период подписки:\n")
	for _, p := range priced {
		fmt.Fprintf(&b, "%s — %.2f ₽\n", p.Period.Title(), p.Price)
	}
	return periodMenu(b.String(), ActionBuyPeriod), nil
}

// buyPeriod creates a payment intent, reusing an already open intent
// for the same period so a double tap never creates a second charge.
func (m *Machine) buyPeriod(ctx context.Context, s *session.Session, arg string) (Render, error) {
	period, err := subscription.ParsePeriod(arg)
	if err != nil {
		return Render{}, err
	}

	intent, found, err := m.payments.PendingFor(s.UserID, period)
	if err != nil {
		return Render{}, err
	}
	if !found {
		discount := 0.0
		if v := s.Value(ctxPromoDiscount); v != "" {
			discount, _ = strconv.ParseFloat(v, 64)
		}
		intent, err = m.payments.CreateIntent(ctx, s.UserID, period, discount)
		if err != nil {
			return Render{}, err
		}
		// The discount is spent by the intent that consumed it.
		delete(s.Context, ctxPromoDiscount)
	}
	s.Set(ctxPendingPayment, intent.ID)

	return Render{
		Text: fmt.Sprintf("К оплате %.2f ₽ за %s.\nПосле оплаты нажмите «Я оплатил».",
			intent.Amount, period.Title()),
		PayURL: intent.PayURL,
	}, nil
}

// checkPayment runs a reconcile pass on demand so the user does not
// have to wait for the scheduler tick after paying. Only the tapping
// user's intents are reconciled: a completion carries the sole copy of
// the credential, and here it can only be rendered to this user.
func (m *Machine) checkPayment(ctx context.Context, s *session.Session) (Render, error) {
	completions, err := m.payments.ReconcileFor(ctx, s.UserID)
	if err != nil {
		return Render{}, err
	}
	if len(completions) > 0 {
		c := completions[0]
		delete(s.Context, ctxPendingPayment)
		return Render{
			Text:       fmt.Sprintf("Оплата получена. Ваш аккаунт: %s.", c.Username),
			Menu:       MenuMain,
			Credential: c.Credential,
		}, nil
	}

	id := s.Value(ctxPendingPayment)
	if id == "" {
		return menu("Нет ожидающих платежей."), nil
	}
	intent, err := m.payments.Get(id)
	if err != nil {
		return Render{}, err
	}
	switch intent.Status {
	case payments.StatusCompleted:
		delete(s.Context, ctxPendingPayment)
		return menu("Платёж уже обработан, аккаунт выдан."), nil
	case payments.StatusFailed:
		delete(s.Context, ctxPendingPayment)
		return menu("Платёж отклонён. Попробуйте оплатить заново."), nil
	default:
		return text("Платёж ещё не подтверждён. Попробуйте через минуту."), nil
	}
}

func (m *Machine) listAccounts(ctx context.Context) (Render, error) {
	infos, err := m.ledger.Overview(ctx)
	if err != nil {
		return Render{}, err
	}
	if len(infos) == 0 {
		return menu("Аккаунтов пока нет."), nil
	}
	var b strings.Builder
	b.WriteString("Аккаунты:\n")
	for _, info := range infos {
		owner := "-"
		if info.Owner != nil {
			owner = strconv.FormatInt(*info.Owner, 10)
		}
		fmt.Fprintf(&b, "%s — %s, владелец %s\n",
			info.Username, formatExpiration(info.Expiration), owner)
	}
	return menu(b.String()), nil
}

func (m *Machine) activePeers(ctx context.Context) (Render, error) {
	infos, err := m.ledger.Overview(ctx)
	if err != nil {
		return Render{}, err
	}
	var b strings.Builder
	b.WriteString("Активные подключения:\n")
	active := 0
	for _, info := range infos {
		if info.LastHandshake.IsZero() {
			continue
		}
		active++
		fmt.Fprintf(&b, "%s — %s назад, ↓%s ↑%s\n",
			info.Username,
			time.Since(info.LastHandshake).Round(time.Second),
			formatBytes(info.ReceiveBytes), formatBytes(info.TransmitBytes))
	}
	if active == 0 {
		return menu("Активных подключений нет."), nil
	}
	return menu(b.String()), nil
}

func (m *Machine) renewByPeriod(s *session.Session, arg string) (Render, error) {
	target := s.Value(ctxRenewalTarget)
	if target == "" {
		return Render{}, domain.Conflict("Сначала выберите аккаунт для продления.")
	}
	period, err := subscription.ParsePeriod(arg)
	if err != nil {
		return Render{}, err
	}
	next, err := m.ledger.Renew(target, period)
	if err != nil {
		return Render{}, err
	}
	s.Awaiting = ""
	delete(s.Context, ctxRenewalTarget)
	return menu(fmt.Sprintf("Аккаунт %s продлён до %s.", target, next.Format(dateLayout))), nil
}

func (m *Machine) listPromos() (Render, error) {
	infos, err := m.promos.List()
	if err != nil {
		return Render{}, err
	}
	if len(infos) == 0 {
		return menu("Промокодов пока нет."), nil
	}
	var b strings.Builder
	b.WriteString("Промокоды:\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "%s — скидка %.0f%%, осталось использований: %s\n",
			info.Code, info.Record.Discount, info.Remaining)
	}
	return menu(b.String()), nil
}

func (m *Machine) pickPricePeriod(s *session.Session, arg string) (Render, error) {
	period, err := subscription.ParsePeriod(arg)
	if err != nil {
		return Render{}, err
	}
	current, err := m.pricing.Price(period)
	if err != nil {
		return Render{}, err
	}
	s.Set(ctxPricePeriod, string(period))
	s.Awaiting = awaitPrice
	return text(fmt.Sprintf("Текущая цена за %s: %.2f ₽. Отправьте новую цену.",
		period.Title(), current)), nil
}

func (m *Machine) makeBackup() (Render, error) {
	path, err := m.backup.Create()
	if err != nil {
		return Render{}, err
	}
	return Render{Text: "Резервная копия создана.", Menu: MenuMain, FilePath: path}, nil
}

func (m *Machine) makeReport(ctx context.Context) (Render, error) {
	path, err := m.reports.AccountsOverview(ctx)
	if err != nil {
		return Render{}, err
	}
	return Render{Text: "Отчёт по аккаунтам готов.", Menu: MenuMain, FilePath: path}, nil
}

// SetAnchor records the id of the menu message the frontend keeps
// editing in place for this user. Called by the frontend after it sends
// a fresh menu message.
func (m *Machine) SetAnchor(ctx context.Context, userID int64, messageID int) {
	s, err := m.sessions.Get(ctx, userID)
	if err != nil {
		m.log.Error("failed to load session", "user_id", userID, "err", err)
		return
	}
	s.UserID = userID
	s.AnchorMessageID = messageID
	if err := m.sessions.Put(ctx, s); err != nil {
		m.log.Error("failed to store session", "user_id", userID, "err", err)
	}
}

// anchored stamps a menu render with the session's anchor message so
// the frontend replaces the previous menu instead of stacking a new
// one. A session without an anchor renders a fresh message.
func anchored(s *session.Session, r Render) Render {
	if r.Menu != MenuNone && s.AnchorMessageID != 0 {
		r.Edit = true
		r.AnchorMessageID = s.AnchorMessageID
	}
	return r
}

// resetToIdle drops the session and shows the menu with a reason. Used
// at the dispatch boundary so a failed operation can never leave the
// conversation stuck awaiting input it will not get.
func (m *Machine) resetToIdle(ctx context.Context, userID int64, reason string) Render {
	if err := m.sessions.Reset(ctx, userID); err != nil {
		m.log.Error("failed to reset session", "user_id", userID, "err", err)
	}
	return menu(reason)
}

const helpText = `Бот выдаёт доступ к VPN.

Покупка: «Купить» → период → оплата → аккаунт придёт сюда.
Промокод: «Промокод» → отправьте код.
Ваши аккаунты: «Мои аккаунты».`

func formatExpiration(t *time.Time) string {
	if t == nil {
		return "без ограничения срока"
	}
	return "до " + t.Format(dateLayout)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
