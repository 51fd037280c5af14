package domain

// ProductImage описывает фотографию продукта из каталога.
// Эмбеддинги и дескриптор ключевых точек заполняются write-once по мере
// обработки изображения пайплайном; до этого поля пустые.
type ProductImage struct {
	ImgID     int64
	ProductID int64
	Emb       *EmbeddingPair
	// KeypointRef — непрозрачная ссылка на blob с дескрипторами в объектном хранилище.
	// Пустая строка означает, что дескрипторы ещё не посчитаны.
	KeypointRef string
}

func NewProductImage(imgID, productID int64, emb *EmbeddingPair, keypointRef string) *ProductImage {
	return &ProductImage{
		ImgID:       imgID,
		ProductID:   productID,
		Emb:         emb,
		KeypointRef: keypointRef,
	}
}
