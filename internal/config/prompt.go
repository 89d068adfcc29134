package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultSystemPrompt builds the built-in business-assistant persona for the
// given business name and description. The persona restricts the bot to its
// business domain and offers a human handoff for anything else.
func DefaultSystemPrompt(businessName, businessDescription string) string {
	return fmt.Sprintf(`Eres el asistente virtual de %[1]s, especializado en %[2]s.

SOBRE %[3]s:
- Somos una consultora especializada en desarrollo de Agentes AI para empresas
- Ayudamos a empresas a automatizar su atención al cliente con bots inteligentes de WhatsApp
- Nuestros servicios incluyen: diseño, desarrollo, implementación y mantenimiento de agentes AI
- Trabajamos principalmente con empresas en Colombia y Latinoamérica

REGLAS DE CONVERSACIÓN:
1. SOLO respondes sobre: servicios de %[1]s, agentes AI, automatización, precios, proceso de trabajo
2. Si preguntan algo fuera de tu dominio, di: "Solo puedo ayudarte con temas relacionados a desarrollo de agentes AI. ¿Te gustaría saber cómo podemos ayudar a tu empresa?"
3. NUNCA respondas sobre: política, deportes, noticias, conocimiento general, chismes
4. Si no tienes información específica, ofrece conectar con un asesor humano
5. Siempre identifícate como asistente virtual de %[1]s
6. Sé amable, profesional y conciso
7. Usa español natural, como se habla en Colombia

FLUJO DE CONVERSACIÓN:
- Si es un prospecto nuevo: Pregunta sobre su empresa, qué problema quiere resolver, qué volumen de mensajes manejan
- Si quiere información de precios: Explica que los precios varían según complejidad y ofrece agendar una llamada
- Si es cliente existente: Pregunta cómo puedes ayudarlo y ofrece conectar con su asesor asignado

CONTACTO:
- Para agendar una llamada: "Te puedo conectar con nuestro equipo para agendar una demostración"
- WhatsApp de soporte: Ofrece escalar a un humano si no puedes resolver

Responde de forma natural y conversacional, sin usar markdown ni formatos especiales.`,
		businessName, businessDescription, strings.ToUpper(businessName))
}

// PromptSource serves the active system prompt. When a prompt file is
// configured the file contents win over the built-in persona, and edits to the
// file are picked up without a restart.
type PromptSource struct {
	fallback string
	path     string
	current  atomic.Value // string
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewPromptSource creates a prompt source for cfg. When cfg.Bot names a
// system-prompt file, the file is loaded immediately and watched for changes;
// watch setup failure degrades to the loaded (or built-in) prompt.
func NewPromptSource(cfg *Config) *PromptSource {
	ps := &PromptSource{
		fallback: DefaultSystemPrompt(cfg.Bot.GetBusinessName(), cfg.Bot.GetBusinessDescription()),
		path:     cfg.Bot.SystemPromptFile,
		done:     make(chan struct{}),
	}
	ps.current.Store(ps.fallback)
	if ps.path == "" {
		return ps
	}
	ps.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("prompt watcher unavailable, hot reload disabled")
		return ps
	}
	if err = watcher.Add(ps.path); err != nil {
		log.WithError(err).WithField("path", ps.path).Warn("cannot watch prompt file, hot reload disabled")
		_ = watcher.Close()
		return ps
	}
	ps.watcher = watcher
	go ps.watch()
	return ps
}

// SystemPrompt returns the currently active system prompt.
func (ps *PromptSource) SystemPrompt() string {
	if v, ok := ps.current.Load().(string); ok && v != "" {
		return v
	}
	return ps.fallback
}

// Close stops the file watcher, if one is running.
func (ps *PromptSource) Close() {
	if ps.watcher != nil {
		close(ps.done)
		_ = ps.watcher.Close()
	}
}

func (ps *PromptSource) reload() {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		log.WithError(err).WithField("path", ps.path).Warn("prompt file unreadable, keeping previous prompt")
		return
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		log.WithField("path", ps.path).Warn("prompt file empty, keeping previous prompt")
		return
	}
	ps.current.Store(prompt)
	log.WithField("path", ps.path).Info("system prompt reloaded")
}

func (ps *PromptSource) watch() {
	for {
		select {
		case <-ps.done:
			return
		case event, ok := <-ps.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				ps.reload()
			}
			// Editors often replace files; re-add the path after a rename.
			if event.Op&fsnotify.Rename != 0 {
				_ = ps.watcher.Add(ps.path)
				ps.reload()
			}
		case err, ok := <-ps.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("prompt watcher error")
		}
	}
}
