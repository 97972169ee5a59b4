package http

import "github.com/gin-gonic/gin"

func RegisterIngestaRoutes(r *gin.Engine, handler *IngestaHandler) {
	casillas := r.Group("/casillas")
	{
		casillas.GET("/:id", handler.GetCasilla)
		casillas.POST("/:id/archivos", handler.UploadArchivo)
	}

	ejecuciones := r.Group("/ejecuciones")
	{
		ejecuciones.GET("/", handler.ListExecutions)
		ejecuciones.GET("/:id", handler.GetExecution)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
