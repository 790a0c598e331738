// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/units"
)

// EventTemplates are the notification texts per instruction.
var EventTemplates = map[string]string{
	"campaign_create":    "New campaign {campaign} by {signer} with a goal of {amount} SOL",
	"campaign_support":   "{signer} pledged {amount} SOL to {campaign}",
	"support_cancel":     "{signer} withdrew a pledge of {amount} SOL from {campaign}",
	"campaign_withdraw":  "Owner {signer} withdrew {amount} SOL from {campaign}",
	"campaign_review":    "Campaign {campaign} was approved",
	"campaign_cancel":    "Campaign {campaign} was canceled",
	"admin_initialize":   "Admin account initialized by {signer}",
	"ownership_transfer": "Admin role transferred by {signer}",
	AirdropInstruction:   "Airdropped {amount} SOL to {signer}",
}

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// RenderEvent renders the notification text for ev.
func RenderEvent(ev model.LedgerEvent) string {
	template, ok := EventTemplates[ev.Instruction]
	if !ok {
		template = "{instruction} by {signer}"
	}
	campaign := ""
	if !ev.Campaign.IsZero() {
		campaign = ev.Campaign.String()
	}
	return RenderTemplate(template, map[string]string{
		"instruction": ev.Instruction,
		"signer":      ev.Signer.String(),
		"campaign":    campaign,
		"amount":      units.FormatSol(ev.Amount),
	})
}
