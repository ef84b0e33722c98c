// Package smartmailer sends one personalized HTML email to every recipient of a
// department, with open tracking and delivery history.
//
// A dispatch validates the recipient records, keeps the ones whose group code
// matches the target group ("ALL" selects everyone), renders the template for
// each recipient and delivers it over an authenticated SMTP relay. Deliveries
// are paced in batches and retried with exponential backoff. Every successful
// delivery is reported to the analytics service when history is enabled.
//
// # Basic Usage
//
//	client, err := smartmailer.New(smartmailer.DefaultConfig(),
//		smartmailer.WithSMTPAuth("smtp.gmail.com", 587, user, password),
//		smartmailer.WithSender("events@example.com", "Events Team"),
//		smartmailer.WithHistory("https://analytics.example.com", token),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	summary, err := client.Dispatch(ctx, &smartmailer.SendRequest{
//		Records:     records,
//		TargetGroup: "ENG",
//		Subject:     "Offsite agenda",
//		Template:    "<body>Hi #name# from #department#</body>",
//	})
//
// # Templates
//
// The placeholders #name# and #department# are replaced by the recipient's
// name and canonical group code. A 1x1 tracking image pointing at the
// configured tracking endpoint is placed before the closing </body> tag, or
// appended when the template has none.
//
// # Features
//
//   - Recipient validation with per-row rejection reasons
//   - Batched delivery with a configurable pause between batches
//   - Retries with exponential backoff and jitter
//   - Optional bounded worker pool
//   - Asynchronous delivery history reporting
//   - Distributed tracing and metrics with OpenTelemetry
//   - Context-aware cancellation
package smartmailer
