// Package openai implements generation.Generator against any OpenAI-compatible
// chat completion endpoint, including a local Ollama server reached through
// llm.openai_base_url.
package openai
