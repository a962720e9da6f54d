package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bioscout/internal/lookup"
	"bioscout/internal/network"
	"bioscout/internal/phone"
	"bioscout/internal/session"
	"bioscout/internal/storage"
	"bioscout/internal/transport/telegram/router"
	logx "bioscout/pkg/logx"
)

const welcome = `👋 Welcome to bioscout.

Link your WhatsApp once, then send phone numbers to read their profile bio.

1. /pair 6281234567890 to get a pairing code
2. Send one number for a quick answer, or many (one per line) for a bulk check
3. Upload a .txt file for large lists

/help lists every command.`

// Commands returns the chat command set.
func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "introduction", Access: router.AccessMember, Handle: b.handleStart},
		{Name: "pair", Description: "link your WhatsApp", Usage: "/pair <phone>", Access: router.AccessMember, Timeout: 90 * time.Second, Handle: b.handlePair},
		{Name: "status", Description: "show your WhatsApp link", Access: router.AccessMember, Handle: b.handleStatus},
		{Name: "check", Aliases: []string{"bio"}, Description: "check profile bios", Usage: "/check <numbers...>", Access: router.AccessMember, Timeout: time.Minute, Handle: b.handleCheck},
		{Name: "debug", Description: "raw lookup of one number", Usage: "/debug <number>", Access: router.AccessMember, Timeout: time.Minute, Handle: b.handleDebug},
		{Name: "cancel", Description: "stop a pairing or a running check", Access: router.AccessMember, Handle: b.handleCancel},
		{Name: "disconnect", Aliases: []string{"logout"}, Description: "unlink your WhatsApp", Access: router.AccessMember, Timeout: time.Minute, Handle: b.handleDisconnect},
		{Name: "sessions", Description: "list all tenant sessions", Access: router.AccessOwnerOnly, Handle: b.handleSessions},
	}
}

// Fallbacks handles plain numbers and .txt uploads.
func (b *Bot) Fallbacks() router.Fallbacks {
	return router.Fallbacks{Text: b.handleText, Document: b.handleDocument, Access: router.AccessMember}
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	return reply(ctx, req, welcome)
}

func (b *Bot) handlePair(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return reply(ctx, req, "Usage: /pair <phone>\nExample: /pair 6281234567890")
	}
	tenant := tenantOf(req.FromID)
	start := b.now()
	rec, err := b.pairing.Pair(ctx, tenant, strings.Join(req.Args, ""), newChatReplier(req.Adapter, req.Chat, 0))
	b.audit(ctx, storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Tenant:        tenant,
		Action:        "pair",
		Target:        rec.Phone,
		Error:         errString(err),
		TookMS:        b.now().Sub(start).Milliseconds(),
	}, nil)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrInvalidPhone):
		return reply(ctx, req, "❌ Invalid phone number.\nExample: /pair 6281234567890")
	case errors.Is(err, session.ErrAlreadyPaired):
		return reply(ctx, req, "✅ WhatsApp is already linked. Use /disconnect first to link another number.")
	case errors.Is(err, session.ErrPoolClosed):
		return reply(ctx, req, "⏳ Shutting down, try again in a moment.")
	case errors.Is(err, network.ErrThrottled):
		return reply(ctx, req, "⏳ WhatsApp is rate limiting pairing requests. Wait a few minutes and try again.")
	default:
		req.Logger.Warn("pairing failed", logx.Err(err))
		cause := err
		var pe *session.PairingError
		if errors.As(err, &pe) {
			cause = pe.Err
		}
		return reply(ctx, req, "❌ Could not get a pairing code: "+cause.Error())
	}

	msg := fmt.Sprintf("🔑 Pairing code: %s\n\n"+
		"On the phone with +%s:\n"+
		"1. Open WhatsApp → Settings → Linked devices\n"+
		"2. Tap Link a device → Link with phone number instead\n"+
		"3. Enter the code above\n\n"+
		"I'll tell you once it is linked. /cancel stops the pairing.", rec.Code, rec.Phone)
	return reply(ctx, req, msg)
}

func (b *Bot) handleStatus(ctx context.Context, req *router.Request) error {
	tenant := tenantOf(req.FromID)
	var info *session.Info
	for _, in := range b.pool.Snapshot() {
		if in.Tenant == tenant {
			info = &in
			break
		}
	}
	var s strings.Builder
	s.WriteString("📶 WhatsApp: ")
	if info == nil {
		s.WriteString("not linked. Use /pair <phone>.")
	} else {
		s.WriteString(stateLine(*info))
	}
	if rec, ok := b.pairing.Pending(tenant); ok {
		fmt.Fprintf(&s, "\n🔑 Pairing pending for +%s (code %s)", rec.Phone, rec.Code)
	}
	if b.jobRunning(tenant) {
		s.WriteString("\n🚀 A bulk check is running. /cancel stops it.")
	}
	return reply(ctx, req, s.String())
}

func (b *Bot) handleSessions(ctx context.Context, req *router.Request) error {
	infos := b.pool.Snapshot()
	if len(infos) == 0 {
		return reply(ctx, req, "No sessions.")
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Tenant < infos[j].Tenant })
	var s strings.Builder
	open := 0
	for _, in := range infos {
		if in.State == session.StateOpen {
			open++
		}
		fmt.Fprintf(&s, "• %s: %s\n", in.Tenant, stateLine(in))
	}
	fmt.Fprintf(&s, "\n%d sessions, %d connected, %d bulk checks running", len(infos), open, b.ActiveJobs())
	return reply(ctx, req, s.String())
}

func (b *Bot) handleCheck(ctx context.Context, req *router.Request) error {
	nums := phone.ParseList(req.Text)
	if len(nums) == 0 {
		return reply(ctx, req, "Usage: /check <numbers...>\nSend one number per line for a bulk check, or upload a .txt file.")
	}
	return b.check(ctx, req, nums, false)
}

// handleText treats private plain text as a list of numbers.
func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	if req.Message().IsGroup {
		return nil
	}
	nums := phone.ParseList(req.Text)
	if len(nums) == 0 {
		return reply(ctx, req, "❌ No valid numbers found. Send phone numbers or use /help.")
	}
	return b.check(ctx, req, nums, false)
}

func (b *Bot) handleDocument(ctx context.Context, req *router.Request) error {
	doc := req.Message().Document
	if doc == nil {
		return nil
	}
	if !strings.HasSuffix(strings.ToLower(doc.FileName), ".txt") {
		return reply(ctx, req, "❌ Upload a .txt file with one number per line.")
	}
	limit := b.config().MaxUploadBytes
	if doc.Size > limit {
		return reply(ctx, req, fmt.Sprintf("❌ File too large (max %d KB).", limit/1024))
	}
	if !b.pool.IsConnected(tenantOf(req.FromID)) {
		return reply(ctx, req, notLinked)
	}
	_ = reply(ctx, req, "📥 Reading file...")
	data, err := req.Adapter.Download(ctx, doc.FileID, limit)
	if err != nil {
		req.Logger.Warn("download failed", logx.String("file", doc.FileName), logx.Err(err))
		return reply(ctx, req, "❌ Could not read the file: "+err.Error())
	}
	nums := phone.ParseList(string(data))
	if len(nums) == 0 {
		return reply(ctx, req, "❌ No valid numbers found in the file.")
	}
	return b.check(ctx, req, nums, true)
}

const notLinked = "❌ WhatsApp is not connected. Use /pair <phone> first."

// check answers one typed number inline and runs everything else as a
// bulk job.
func (b *Bot) check(ctx context.Context, req *router.Request, nums []string, fromFile bool) error {
	tenant := tenantOf(req.FromID)
	if !b.pool.IsConnected(tenant) {
		return reply(ctx, req, notLinked)
	}
	if len(nums) == 1 && !fromFile {
		_ = reply(ctx, req, "⏳ Checking...")
		r, err := b.lookup.LookupSingle(ctx, tenant, nums[0])
		if err != nil && network.IsSessionLost(err) {
			return reply(ctx, req, notLinked)
		}
		return reply(ctx, req, singleText(r))
	}

	if b.jobRunning(tenant) {
		return reply(ctx, req, "⏳ A check is already running. /cancel stops it.")
	}
	set := b.config()
	if b.store != nil {
		cd, err := b.store.CheckCooldown(ctx, req.FromID, ActionCheckBio, set.Cooldown)
		if err != nil {
			req.Logger.Warn("cooldown check failed", logx.Err(err))
		} else if cd.OnCooldown {
			secs := int(cd.Remaining.Seconds() + 0.999)
			return reply(ctx, req, fmt.Sprintf("⏳ Cooldown active. Wait %d seconds before the next check.", secs))
		}
	}

	inline := !fromFile && len(nums) <= set.InlineLimit
	rp := newChatReplier(req.Adapter, req.Chat, set.EditInterval)
	actor := storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Tenant:        tenant,
		Action:        ActionCheckBio,
	}
	log := req.Logger
	started := b.startJob(tenant, func(jctx context.Context) {
		b.runBulk(jctx, log, rp, actor, nums, inline)
	})
	if !started {
		return reply(ctx, req, "⏳ A check is already running. /cancel stops it.")
	}
	return nil
}

func (b *Bot) runBulk(ctx context.Context, log logx.Logger, rp *chatReplier, actor storage.AuditEntry, nums []string, inline bool) {
	out := context.WithoutCancel(ctx)
	_ = rp.EditProgress(out, progressText(lookup.Progress{Total: min(len(nums), b.lookup.MaxTargets())}))

	rep, err := b.lookup.RunBulk(ctx, actor.Tenant, nums, func(p lookup.Progress) {
		if err := rp.EditProgress(out, progressText(p)); err != nil {
			log.Debug("progress edit failed", logx.Err(err))
		}
	})
	_ = rp.Flush(out)

	if errors.Is(err, context.Canceled) {
		_ = rp.SendText(out, "🛑 Check cancelled.")
	}
	at := b.now()
	if err := rp.SendText(out, summaryText(rep, inline)); err != nil {
		log.Warn("summary send failed", logx.Err(err))
	}
	if !inline {
		if err := rp.SendDocument(out, fileName("with_bio", at), withBioFile(rep), "✅ Numbers with bio"); err != nil {
			log.Warn("result upload failed", logx.Err(err))
		}
		if err := rp.SendDocument(out, fileName("no_bio", at), noBioFile(rep), "⚪ Numbers without bio or failed"); err != nil {
			log.Warn("result upload failed", logx.Err(err))
		}
	}
	if n := len(rep.Unprocessed); n > 0 {
		caption := fmt.Sprintf("📌 %d numbers not processed. Send them again to continue.", n)
		if err := rp.SendDocument(out, fileName("remaining_numbers", at), remainingFile(rep.Unprocessed), caption); err != nil {
			log.Warn("remaining upload failed", logx.Err(err))
		}
	}

	actor.Target = rep.JobID
	actor.OK = rep.Processed - failed(rep.Counts)
	actor.Fail = failed(rep.Counts)
	actor.Error = errString(err)
	actor.TookMS = rep.Duration.Milliseconds()
	b.audit(out, actor, map[string]any{
		"counts":      rep.Counts,
		"unprocessed": len(rep.Unprocessed),
	})
}

func (b *Bot) handleDebug(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return reply(ctx, req, "Usage: /debug <number>")
	}
	tenant := tenantOf(req.FromID)
	d, err := b.lookup.Debug(ctx, tenant, req.Args[0])
	switch {
	case err == nil:
		return reply(ctx, req, debugText(d))
	case network.IsSessionLost(err):
		return reply(ctx, req, notLinked)
	default:
		return reply(ctx, req, "❌ "+err.Error())
	}
}

func (b *Bot) handleCancel(ctx context.Context, req *router.Request) error {
	tenant := tenantOf(req.FromID)
	var done []string
	if b.cancelJob(tenant) {
		done = append(done, "🛑 Stopping the running check. Partial results follow.")
	}
	if b.pairing.Cancel(tenant) {
		if b.pool.State(tenant) != session.StateOpen {
			if err := b.pool.Disconnect(ctx, tenant); err != nil {
				req.Logger.Warn("pairing teardown failed", logx.Err(err))
			}
		}
		done = append(done, "🔑 Pairing cancelled.")
	}
	if len(done) == 0 {
		return reply(ctx, req, "Nothing to cancel.")
	}
	return reply(ctx, req, strings.Join(done, "\n"))
}

func (b *Bot) handleDisconnect(ctx context.Context, req *router.Request) error {
	tenant := tenantOf(req.FromID)
	b.cancelJob(tenant)
	b.pairing.Cancel(tenant)
	start := b.now()
	err := b.pool.Disconnect(ctx, tenant)
	b.audit(ctx, storage.AuditEntry{
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Tenant:        tenant,
		Action:        "disconnect",
		Error:         errString(err),
		TookMS:        b.now().Sub(start).Milliseconds(),
	}, nil)
	if err != nil {
		req.Logger.Warn("disconnect incomplete", logx.Err(err))
		return reply(ctx, req, "⚠️ Disconnected, but cleanup reported: "+err.Error())
	}
	return reply(ctx, req, "🔌 WhatsApp unlinked. Use /pair to link again.")
}
