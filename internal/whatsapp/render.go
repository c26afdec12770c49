package whatsapp

import (
	"fmt"
	"strings"

	"github.com/kavanga/importdesk/internal/domain"
)

// statusTemplate describes the message sent for one order status.
type statusTemplate struct {
	headline string // first line after the greeting, %s is the vehicle name
	nextStep string // optional closing line
}

// Messages are in French, the working language of the customer base.
var statusTemplates = map[domain.OrderStatus]statusTemplate{
	domain.OrderStatusDepositPaid: {
		headline: "Votre acompte pour le *%s* a bien été reçu !",
		nextStep: "Prochaine étape : nous allons bloquer le véhicule pour vous.",
	},
	domain.OrderStatusVehicleLocked: {
		headline: "Excellente nouvelle ! Votre *%s* est maintenant bloqué et réservé pour vous.",
		nextStep: "Prochaine étape : nous préparons l'inspection du véhicule.",
	},
	domain.OrderStatusInspectionSent: {
		headline: "Le rapport d'inspection de votre *%s* est disponible !",
		nextStep: "Consultez le rapport et confirmez pour procéder au paiement complet.",
	},
	domain.OrderStatusFullPaymentReceived: {
		headline: "Le paiement complet pour votre *%s* a été confirmé !",
		nextStep: "Prochaine étape : achat du véhicule en votre nom.",
	},
	domain.OrderStatusVehiclePurchased: {
		headline: "Félicitations ! Votre *%s* a été officiellement acheté !",
		nextStep: "Prochaine étape : préparation des formalités douanières d'export.",
	},
	domain.OrderStatusExportCustoms: {
		headline: "Votre *%s* est en cours de dédouanement export.",
		nextStep: "Prochaine étape : transit vers le port d'embarquement.",
	},
	domain.OrderStatusInTransit: {
		headline: "Votre *%s* est en transit vers le port d'embarquement !",
		nextStep: "Prochaine étape : arrivée au port pour l'expédition maritime.",
	},
	domain.OrderStatusAtPort: {
		headline: "Votre *%s* est arrivé au port et prêt pour l'embarquement !",
		nextStep: "Prochaine étape : chargement sur le navire.",
	},
	domain.OrderStatusShipping: {
		headline: "Votre *%s* navigue vers sa destination !",
		nextStep: "Vous recevrez des mises à jour pendant le voyage.",
	},
	domain.OrderStatusDocumentsReady: {
		headline: "Les documents officiels de votre *%s* sont prêts !",
		nextStep: "Ces documents seront nécessaires pour le dédouanement à l'arrivée.",
	},
	domain.OrderStatusCustoms: {
		headline: "Votre *%s* est arrivé et en cours de dédouanement !",
		nextStep: "Nous vous tiendrons informé de l'avancement des formalités.",
	},
	domain.OrderStatusReadyPickup: {
		headline: "EXCELLENTE NOUVELLE ! Votre *%s* est prêt pour le retrait !",
		nextStep: "Contactez-nous pour organiser la livraison ou le retrait.",
	},
	domain.OrderStatusDelivered: {
		headline: "Félicitations ! Votre *%s* vous a été livré !",
		nextStep: "Merci pour votre confiance, et bonne route !",
	},
}

// RenderMessage builds the message body for a notification. The queue
// stores the structured payload; the text is rendered at send time so a
// retried job always uses the current template.
func RenderMessage(kind domain.NotificationKind, payload domain.NotificationPayload) string {
	var b strings.Builder

	name := payload.CustomerName
	if name == "" {
		name = "cher client"
	}
	fmt.Fprintf(&b, "Bonjour %s,\n\n", name)

	switch kind {
	case domain.KindStatusChange:
		renderStatusChange(&b, payload)
	case domain.KindDocumentUpload:
		fmt.Fprintf(&b, "De nouveaux documents sont disponibles pour votre commande.\n")
		renderDocuments(&b, payload.Documents)
	case domain.KindOrderConfirmation:
		fmt.Fprintf(&b, "Votre commande pour le *%s* est confirmée !\n", vehicleName(payload))
	case domain.KindPaymentReminder:
		fmt.Fprintf(&b, "Rappel : un paiement est attendu pour votre commande du *%s*.\n", vehicleName(payload))
	case domain.KindShippingUpdate:
		fmt.Fprintf(&b, "Mise à jour de l'expédition de votre *%s*.\n", vehicleName(payload))
		if payload.ShippingETA != "" {
			fmt.Fprintf(&b, "\n📅 Arrivée estimée : *%s*\n", payload.ShippingETA)
		}
	case domain.KindDeliveryNotification:
		fmt.Fprintf(&b, "Votre *%s* est arrivé et vous attend !\n", vehicleName(payload))
	case domain.KindCustom:
		b.WriteString(payload.CustomMessage)
		b.WriteString("\n")
	default:
		b.WriteString(payload.CustomMessage)
		b.WriteString("\n")
	}

	if payload.OrderNumber != "" {
		fmt.Fprintf(&b, "\n📋 Commande : *%s*\n", payload.OrderNumber)
	} else if payload.QuoteNumber != "" {
		fmt.Fprintf(&b, "\n📋 Devis : *%s*\n", payload.QuoteNumber)
	}

	if payload.Note != "" {
		fmt.Fprintf(&b, "\n💬 %s\n", payload.Note)
	}

	if payload.DashboardURL != "" {
		fmt.Fprintf(&b, "\nSuivez votre commande en temps réel :\n👉 %s\n", payload.DashboardURL)
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderStatusChange(b *strings.Builder, payload domain.NotificationPayload) {
	tmpl, ok := statusTemplates[domain.OrderStatus(payload.Status)]
	if !ok {
		fmt.Fprintf(b, "Le statut de votre commande a changé : *%s*.\n", payload.Status)
		return
	}

	fmt.Fprintf(b, tmpl.headline+"\n", vehicleName(payload))
	renderDocuments(b, payload.Documents)
	if payload.ShippingETA != "" {
		fmt.Fprintf(b, "\n📅 Arrivée estimée : *%s*\n", payload.ShippingETA)
	}
	if tmpl.nextStep != "" {
		fmt.Fprintf(b, "\n%s\n", tmpl.nextStep)
	}
}

func renderDocuments(b *strings.Builder, docs []domain.DocumentRef) {
	visible := make([]domain.DocumentRef, 0, len(docs))
	for _, d := range docs {
		if d.VisibleToClient != nil && !*d.VisibleToClient {
			continue
		}
		visible = append(visible, d)
	}
	if len(visible) == 0 {
		return
	}

	b.WriteString("\n📄 Documents :\n")
	for _, d := range visible {
		if d.URL != "" {
			fmt.Fprintf(b, "• %s : %s\n", d.Name, d.URL)
		} else {
			fmt.Fprintf(b, "• %s\n", d.Name)
		}
	}
}

func vehicleName(payload domain.NotificationPayload) string {
	v := payload.Vehicle
	if v == nil {
		return "véhicule"
	}
	if v.Year > 0 {
		return fmt.Sprintf("%s %s %d", v.Make, v.Model, v.Year)
	}
	return fmt.Sprintf("%s %s", v.Make, v.Model)
}
