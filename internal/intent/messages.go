package intent

import (
	"fmt"
	"strings"
	"time"
)

const (
	msgGreeting = "¡Hola! Soy Romero AI.\n" +
		"• Ej.: 'reunión mañana a las 15:30'\n" +
		"• Ej.: 'tomar vitaminas todos los días a las 08:00'\n" +
		"Te confirmo cuando quede programado ✅\n" +
		"Comandos: /recordatorios para ver tus recordatorios, /cancelar <id> para borrar uno."
	msgHint           = "👌 Recibido. Probá: 'mañana a las 9' o 'todos los días a las 08:00'."
	msgVoiceHint      = "Entendí el audio, pero no supe qué hacer con él. Probá con frases como 'reunión mañana a las 3'."
	msgVoiceEmpty     = "No entendí nada en el audio 😅. Intentá hablar más claro."
	msgVoiceFailed    = "⚠️ No pude procesar el audio."
	msgScheduleFailed = "⚠️ No pude programar el recordatorio. Probá de nuevo en un rato."
	msgNoJobs         = "No tenés recordatorios activos."
	msgCancelUsage    = "Usá: /cancelar <id> (los ids aparecen en /recordatorios)."
)

func payloadOnce(text string) string  { return "📌 Recordatorio: " + text }
func payloadDaily(text string) string { return "🔄 Recordatorio diario: " + text }

func confirmOnce(t ParsedTime) string  { return fmt.Sprintf("✅ Te aviso mañana a las %s.", t) }
func confirmDaily(t ParsedTime) string { return fmt.Sprintf("✅ Activo recordatorio diario a las %s.", t) }

func transcriptEcho(text, reply string) string {
	return "🎤 Transcribí: " + text + "\n" + reply
}

func cancelled(id string) string { return "🗑️ Cancelé el recordatorio " + id + "." }
func notFound(id string) string  { return "No encontré el recordatorio " + id + "." }

// jobLine describes one job for /recordatorios.
type jobLine struct {
	ID    string
	Daily bool
	Next  time.Time
	Text  string
}

func listJobs(lines []jobLine, loc *time.Location) string {
	if len(lines) == 0 {
		return msgNoJobs
	}
	var b strings.Builder
	b.WriteString("📋 Tus recordatorios:")
	for _, l := range lines {
		when := "sin fecha"
		if !l.Next.IsZero() {
			when = l.Next.In(loc).Format("02/01 15:04")
		}
		kind := "una vez"
		if l.Daily {
			kind = "todos los días"
		}
		fmt.Fprintf(&b, "\n• %s (%s, próximo %s)\n  id: %s", l.Text, kind, when, l.ID)
	}
	return b.String()
}
