// Package runner выполняет листовые job'ы графа.
//
// Runner получает от движка Invocation, определяет целевые устройства
// и для каждого из них:
//
//  1. вычисляет условие "when" из config (ложное — устройство пропускается)
//  2. рендерит config шаблонами (.Device, .Payload, .Results, .Env)
//  3. выполняет executor по типу job'а с retry и таймаутом
//
// Executor'ы:
//
//	http       — запрос к REST API устройства или сервиса
//	tcp_check  — проверка доступности порта устройства
//	delay      — пауза
//	transform  — отрендеренный config как outputs
//	noop       — ничего не делает
//
// Пример job'а:
//
//	- name: check-ssh
//	  type: tcp_check
//	  config:
//	    port: 22
//	    when: 'eq .Device.Vendor "cisco"'
//	  retry:
//	    max_attempts: 3
//	    backoff: exponential
//	    initial_delay_ms: 500
package runner
