// Package models содержит доменные структуры учётных данных прокси.
package models

import "time"

// ProxyCredential секрет пользователя для одного прокси-сервера.
// Пара (UserUID, EndpointID) уникальна, значение секрета уникально
// глобально: секрет одновременно является bearer-учёткой.
type ProxyCredential struct {
	ID         int        // Внутренний идентификатор записи
	UserUID    string     // Владелец секрета
	EndpointID string     // Идентификатор прокси-сервера (host:port из конфигурации)
	Secret     string     // Секрет фиксированной длины, непрозрачный для движка
	IssuedAt   time.Time  // Дата выпуска
	RotatedAt  *time.Time // Дата последней ротации, nil если секрет не ротировался
}

// CredentialView представление учётных данных для выдачи фронтенду:
// адрес сервера, порт, секрет и готовая ссылка подключения.
type CredentialView struct {
	Server string `json:"server"`
	Port   int    `json:"port"`
	Secret string `json:"secret"`
	Link   string `json:"link"`
}
